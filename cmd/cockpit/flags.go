package main

import "time"

// GlobalFlags holds persistent flags shared by all commands.
type GlobalFlags struct {
	ConfigPath string
}

// ClientFlags override the [panel] connection settings for client commands.
type ClientFlags struct {
	APIUrl     string
	Token      string
	APITimeout time.Duration
	Insecure   bool
}

type ServeFlags struct {
	Listen string
	Dummy  bool
}

// WatchFlags override the live transport settings of watch and panel.
type WatchFlags struct {
	Transport      string
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	RestartPolicy  string
	ConflictPolicy string
}
