// Copyright 2025 mcbridge contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package endpoint defines the "host:port" TCP endpoints used to reach the
// relay and the tunnelled target server.
package endpoint

import (
	"fmt"
	"net"
	"strconv"
)

type Endpoint struct {
	host string
	port uint16
}

func New(host string, port uint16) Endpoint {
	return Endpoint{host: host, port: port}
}

// Parse builds an endpoint from a "host:port" string.
func Parse(str string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(str)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: %w", str, err)
	}
	if host == "" {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: missing host", str)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: bad port: %w", str, err)
	}
	if port == 0 {
		return Endpoint{}, fmt.Errorf("invalid endpoint %q: port must be non zero", str)
	}
	return Endpoint{host: host, port: uint16(port)}, nil
}

func (e Endpoint) Host() string {
	return e.host
}

func (e Endpoint) Port() uint16 {
	return e.port
}

func (e Endpoint) IsValid() bool {
	return e.host != "" && e.port != 0
}

func (e Endpoint) String() string {
	if !e.IsValid() {
		return ""
	}
	return net.JoinHostPort(e.host, strconv.FormatUint(uint64(e.port), 10))
}

func (e Endpoint) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

func (e *Endpoint) UnmarshalText(data []byte) error {
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*e = parsed
	return nil
}
