/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Discovery finds other flyarray instances on the local network segment via
mDNS/Bonjour, so a freshly started instance can locate peers to dial
without a hand-maintained seed list. It never itself opens a
Connection — DiscoverInstances just returns addresses, and the caller
(a MembershipManager, or cmd/flyarray-discover) decides what to do with
them.
*/
package cluster

import (
	"fmt"
	"net"
	"time"

	"github.com/hashicorp/mdns"
)

// serviceName is the mDNS service type flyarray instances advertise
// under, following the "_service._proto" convention.
const serviceName = "_flyarray._tcp"

// DiscoveryConfig controls whether this process advertises itself and
// under what identity.
type DiscoveryConfig struct {
	InstanceID string
	Port       int    // the port peers should dial to reach this instance
	Enabled    bool   // advertise this instance; false for discover-only tools
	Domain     string // defaults to "local." when empty
}

// DiscoveredInstance is one flyarray instance found on the network.
type DiscoveredInstance struct {
	InstanceID string
	Addr       string // host:port peers should dial
	Version    string
}

// DiscoveryService advertises this instance (if configured to) and can
// scan the network for others.
type DiscoveryService struct {
	config DiscoveryConfig
	server *mdns.Server
}

// NewDiscoveryService creates a service. If config.Enabled, call
// Advertise to start responding to mDNS queries; DiscoverInstances works
// regardless of Enabled.
func NewDiscoveryService(config DiscoveryConfig) *DiscoveryService {
	if config.Domain == "" {
		config.Domain = "local."
	}
	return &DiscoveryService{config: config}
}

// Advertise starts responding to mDNS queries for this instance. Stop
// tears the advertisement down.
func (d *DiscoveryService) Advertise() error {
	if !d.config.Enabled {
		return nil
	}
	host, err := net.LookupCNAME(hostnameOrFallback())
	if err != nil {
		host = hostnameOrFallback()
	}

	info := []string{fmt.Sprintf("instance_id=%s", d.config.InstanceID)}
	service, err := mdns.NewMDNSService(
		d.config.InstanceID,
		serviceName,
		d.config.Domain,
		host,
		d.config.Port,
		nil,
		info,
	)
	if err != nil {
		return fmt.Errorf("cluster: build mdns service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return fmt.Errorf("cluster: start mdns server: %w", err)
	}
	d.server = server
	return nil
}

// Stop shuts down the mDNS responder, if one was started.
func (d *DiscoveryService) Stop() error {
	if d.server == nil {
		return nil
	}
	return d.server.Shutdown()
}

// DiscoverInstances scans the local network segment for flyarray
// instances for up to timeout, returning whatever answered in time.
func (d *DiscoveryService) DiscoverInstances(timeout time.Duration) ([]*DiscoveredInstance, error) {
	entriesCh := make(chan *mdns.ServiceEntry, 32)
	params := mdns.DefaultParams(serviceName)
	params.Domain = trimTrailingDot(d.config.Domain)
	params.Timeout = timeout
	params.Entries = entriesCh

	done := make(chan error, 1)
	go func() { done <- mdns.Query(params) }()

	var found []*DiscoveredInstance
	seen := make(map[string]bool)
	deadline := time.After(timeout + 250*time.Millisecond)

collect:
	for {
		select {
		case entry, ok := <-entriesCh:
			if !ok {
				break collect
			}
			inst := parseServiceEntry(entry)
			if inst == nil || seen[inst.Addr] {
				continue
			}
			seen[inst.Addr] = true
			found = append(found, inst)
		case <-deadline:
			break collect
		}
	}

	if err := <-done; err != nil {
		return found, fmt.Errorf("cluster: mdns query: %w", err)
	}
	return found, nil
}

func parseServiceEntry(entry *mdns.ServiceEntry) *DiscoveredInstance {
	if entry.AddrV4 == nil && entry.AddrV6 == nil {
		return nil
	}
	addr := entry.AddrV4
	if addr == nil {
		addr = entry.AddrV6
	}
	instanceID := entry.Name
	for _, field := range entry.InfoFields {
		if len(field) > len("instance_id=") && field[:len("instance_id=")] == "instance_id=" {
			instanceID = field[len("instance_id="):]
		}
	}
	return &DiscoveredInstance{
		InstanceID: instanceID,
		Addr:       net.JoinHostPort(addr.String(), fmt.Sprint(entry.Port)),
	}
}

func trimTrailingDot(s string) string {
	if len(s) > 0 && s[len(s)-1] == '.' {
		return s[:len(s)-1]
	}
	return s
}

func hostnameOrFallback() string {
	h, err := net.LookupAddr("127.0.0.1")
	if err == nil && len(h) > 0 {
		return h[0]
	}
	return "localhost."
}
