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
flyarray-discover finds other flyarray instances on the local network
using mDNS (Bonjour/Avahi). It is a read-only scan: it never advertises
itself and never opens a Connection to what it finds.

Usage:

	flyarray-discover                 # discover instances (5 second timeout)
	flyarray-discover --timeout 10    # custom timeout in seconds
	flyarray-discover --json          # output as JSON
	flyarray-discover --quiet         # only output addresses (for scripting)
*/
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"flyarray/internal/cluster"
)

const (
	version   = "1.0.0"
	copyright = "Copyright (c) 2026 Firefly Software Solutions Inc."
)

const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
)

func main() {
	timeout := flag.Int("timeout", 5, "Discovery timeout in seconds")
	jsonOutput := flag.Bool("json", false, "Output as JSON")
	quiet := flag.Bool("quiet", false, "Only output instance addresses (for scripting)")
	help := flag.Bool("help", false, "Show help")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.BoolVar(help, "h", false, "Show help")
	flag.BoolVar(showVersion, "v", false, "Show version information")
	flag.BoolVar(quiet, "q", false, "Only output instance addresses (for scripting)")

	flag.Parse()

	if *help {
		printUsage()
		os.Exit(0)
	}

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	// hashicorp/mdns logs IPv6 lookup failures at warning level even when
	// the IPv4 answer already arrived; not actionable for this tool.
	log.SetOutput(io.Discard)

	if !*quiet && !*jsonOutput {
		printBanner()
	}

	discovery := cluster.NewDiscoveryService(cluster.DiscoveryConfig{
		InstanceID: "discover-client",
		Enabled:    false,
	})

	if !*quiet && !*jsonOutput {
		fmt.Printf("%s%sℹ%s Scanning for flyarray instances on the network (timeout: %ds)...\n\n",
			cyan, bold, reset, *timeout)
	}

	instances, err := discovery.DiscoverInstances(time.Duration(*timeout) * time.Second)
	if err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "%s%s✗%s Discovery failed: %v\n", red, bold, reset, err)
		}
		os.Exit(1)
	}

	if len(instances) == 0 {
		if !*quiet && !*jsonOutput {
			fmt.Printf("%s%s⚠%s No flyarray instances found on the network.\n\n", yellow, bold, reset)
			fmt.Printf("%s%sTROUBLESHOOTING%s\n\n", bold, cyan, reset)
			fmt.Printf("%s  Common issues:%s\n", dim, reset)
			fmt.Printf("    %s•%s No instance is running with discovery enabled\n", yellow, reset)
			fmt.Printf("    %s•%s mDNS/Bonjour is blocked by firewall (UDP port 5353)\n", yellow, reset)
			fmt.Printf("    %s•%s Instances are on a different network segment\n\n", yellow, reset)
			fmt.Printf("%s  Try:%s\n", dim, reset)
			fmt.Printf("    %sflyarray-discover --timeout 10%s   # Increase timeout\n\n", green, reset)
		}
		os.Exit(0)
	}

	if *jsonOutput {
		outputJSON(instances)
	} else if *quiet {
		outputQuiet(instances)
	} else {
		outputHuman(instances)
	}
}

func printBanner() {
	fmt.Println()
	fmt.Printf("%s%s", cyan, bold)
	fmt.Println("  ██████╗██╗  ██╗   ██╗ █████╗ ██████╗ ██████╗  █████╗ ██╗   ██╗")
	fmt.Println(" ██╔════╝██║  ╚██╗ ██╔╝██╔══██╗██╔══██╗██╔══██╗██╔══██╗╚██╗ ██╔╝")
	fmt.Println(" ██║     ██║   ╚████╔╝ ███████║██████╔╝██████╔╝███████║ ╚████╔╝ ")
	fmt.Println(" ██║     ██║    ╚██╔╝  ██╔══██║██╔══██╗██╔══██╗██╔══██║  ╚██╔╝  ")
	fmt.Println(" ╚██████╗███████╗██║   ██║  ██║██║  ██║██║  ██║██║  ██║   ██║   ")
	fmt.Println("  ╚═════╝╚══════╝╚═╝   ╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═╝╚═╝  ╚═╝   ╚═╝   ")
	fmt.Printf("%s\n", reset)
	fmt.Printf("  %s%sflyarray-discover%s %sv%s%s\n", green, bold, reset, dim, version, reset)
	fmt.Printf("  %sNetwork Instance Discovery Tool%s\n\n", dim, reset)
}

func printVersion() {
	fmt.Println()
	fmt.Printf("  %s%sflyarray-discover%s %sv%s%s\n", cyan, bold, reset, dim, version, reset)
	fmt.Printf("  %sNetwork Instance Discovery Tool%s\n\n", dim, reset)
	fmt.Printf("  %s%s%s\n\n", dim, copyright, reset)
}

func printUsage() {
	printBanner()

	fmt.Printf("%s  Discovers flyarray instances on the local network using mDNS (Bonjour/Avahi).%s\n", dim, reset)
	fmt.Printf("%s  Useful for finding existing cluster instances to join.%s\n\n", dim, reset)

	fmt.Printf("%sUsage:%s flyarray-discover [options]\n\n", bold, reset)

	fmt.Printf("%s%sOPTIONS%s\n\n", bold, cyan, reset)
	fmt.Printf("    %s--timeout%s <seconds>   Discovery timeout (default: 5)\n", green, reset)
	fmt.Printf("    %s--json%s               Output results as JSON\n", green, reset)
	fmt.Printf("    %s--quiet%s, %s-q%s          Only output addresses (for scripting)\n", green, reset, green, reset)
	fmt.Printf("    %s--version%s, %s-v%s        Show version information\n", green, reset, green, reset)
	fmt.Printf("    %s--help%s, %s-h%s           Show this help message\n\n", green, reset, green, reset)

	fmt.Printf("%s%sEXAMPLES%s\n\n", bold, cyan, reset)
	fmt.Printf("%s    # Discover instances with default timeout%s\n", dim, reset)
	fmt.Println("    flyarray-discover")
	fmt.Println()
	fmt.Printf("%s    # Increase timeout for slower networks%s\n", dim, reset)
	fmt.Println("    flyarray-discover --timeout 10")
	fmt.Println()
	fmt.Printf("%s    # Get JSON output for automation%s\n", dim, reset)
	fmt.Println("    flyarray-discover --json")
	fmt.Println()
	fmt.Printf("%s    # Get just addresses for scripting%s\n", dim, reset)
	fmt.Println("    flyarray-discover --quiet")
	fmt.Println()
	fmt.Printf("%s    # Use in a join script to find peers%s\n", dim, reset)
	fmt.Println("    PEERS=$(flyarray-discover --quiet)")
	fmt.Println()

	fmt.Printf("%s%sNETWORK REQUIREMENTS%s\n\n", bold, cyan, reset)
	fmt.Printf("    %s•%s mDNS uses UDP port 5353 (multicast)\n", yellow, reset)
	fmt.Printf("    %s•%s Instances must be on the same network segment\n", yellow, reset)
	fmt.Printf("    %s•%s Firewalls must allow mDNS traffic\n\n", yellow, reset)
}

func outputJSON(instances []*cluster.DiscoveredInstance) {
	type instanceOutput struct {
		InstanceID string `json:"instance_id"`
		Addr       string `json:"addr"`
		Version    string `json:"version,omitempty"`
	}

	output := make([]instanceOutput, len(instances))
	for i, n := range instances {
		output[i] = instanceOutput{InstanceID: n.InstanceID, Addr: n.Addr, Version: n.Version}
	}

	data, _ := json.MarshalIndent(output, "", "  ")
	fmt.Println(string(data))
}

func outputQuiet(instances []*cluster.DiscoveredInstance) {
	addrs := make([]string, len(instances))
	for i, n := range instances {
		addrs[i] = n.Addr
	}
	fmt.Println(strings.Join(addrs, ","))
}

func outputHuman(instances []*cluster.DiscoveredInstance) {
	fmt.Printf("%s%s✓%s Found %d flyarray instance(s)\n\n", green, bold, reset, len(instances))

	for i, n := range instances {
		fmt.Printf("  %s[%d]%s %s%s%s\n",
			dim, i+1, reset,
			bold+cyan, n.InstanceID, reset)

		fmt.Printf("      %sAddress:%s %s%s%s\n",
			dim, reset,
			green, n.Addr, reset)

		if n.Version != "" {
			fmt.Printf("      %sVersion:%s %s\n",
				dim, reset, n.Version)
		}

		fmt.Println()
	}

	fmt.Printf("%s  Tip: Use --json for machine-readable output%s\n\n", dim, reset)
}
