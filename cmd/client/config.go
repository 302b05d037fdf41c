package main

import "gopkg.in/alecthomas/kingpin.v2"

var (
	flagServer = kingpin.Flag("server", "Broker WebSocket URL.").Default("ws://127.0.0.1:8080/ws").String()
	flagClient = kingpin.Flag("client", "Identity to declare for this endpoint.").Required().String()
	flagTarget = kingpin.Flag("target", "Identity of the partner endpoint.").Required().String()
	flagKey    = kingpin.Flag("key", "Pairing key; both endpoints must declare the same value.").Required().String()
)
