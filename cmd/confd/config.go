// Copyright (c) 2018-2021, AT&T Intellectual Property. All rights reserved.
//
// SPDX-License-Identifier: LGPL-2.1-only

package main

import (
	"encoding/xml"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
)

// Config is the backend's static configuration, loaded from the -f XML
// file and then overridden field-by-field by whichever cobra flags the
// operator actually passed. No pack library parses plain XML
// configuration, so encoding/xml is used directly here; see the
// cmd/confd section of DESIGN.md for why.
type Config struct {
	XMLName xml.Name `xml:"confd"`

	DebugLevel   string `xml:"debug-level" validate:"omitempty,oneof=none error debug"`
	LogDest      string `xml:"log-dest" validate:"omitempty"`
	PluginDir    string `xml:"plugin-dir" validate:"omitempty,dirpath"`
	YangPath     string `xml:"yang-path" validate:"omitempty,dirpath"`
	DatastoreDir string `xml:"datastore-dir" validate:"required,dirpath"`
	SockFamily   string `xml:"socket-family" validate:"omitempty,oneof=unix tcp tcp6"`
	SockAddr     string `xml:"socket-address" validate:"required"`
	PIDFile      string `xml:"pid-file" validate:"omitempty"`
	StartupMode  string `xml:"startup-mode" validate:"omitempty,oneof=none startup running init"`
	ExtraXML     string `xml:"extra-xml" validate:"omitempty,file"`
	SockGroup    string `xml:"socket-group" validate:"omitempty"`
	MainYang     string `xml:"main-yang" validate:"omitempty,file"`
	Datastore    string `xml:"datastore" validate:"omitempty,oneof=file sqlite"`
	RateLimitRPS float64 `xml:"rate-limit-rps" validate:"omitempty,gte=0"`
	RateBurst    int     `xml:"rate-limit-burst" validate:"omitempty,gte=0"`
	MetricsAddr  string  `xml:"metrics-addr"`
}

// defaultConfig sets the backend's built-in defaults for every option.
func defaultConfig() Config {
	return Config{
		DebugLevel:   "error",
		PluginDir:    "/lib/confd/plugins",
		YangPath:     "/usr/share/confd/yang",
		DatastoreDir: "/var/lib/confd",
		SockFamily:   "unix",
		SockAddr:     "/var/run/confd/main.sock",
		StartupMode:  "startup",
		Datastore:    "file",
		RateLimitRPS: 0,
		RateBurst:    0,
	}
}

// loadConfigFile reads and unmarshals the XML config at path over base,
// leaving base's fields untouched wherever the file is silent on them.
func loadConfigFile(path string, base Config) (Config, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("reading config file: %w", err)
	}
	cfg := base
	if err := xml.Unmarshal(data, &cfg); err != nil {
		return base, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

var validate = validator.New()

func (c Config) Validate() error {
	return validate.Struct(c)
}
