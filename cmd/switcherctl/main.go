// switcherctl edits the vpn-switcher trust map: which networks map to
// which VPN profiles, and the fallback profile for everything else. The
// daemon re-reads the map on every decision cycle, so edits apply
// immediately.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"vpn-switcher/internal/config"
	"vpn-switcher/internal/nm"
	"vpn-switcher/internal/trust"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	store := trust.NewStore(config.Load().Trust.Path)

	var err error
	switch os.Args[1] {
	case "add":
		err = cmdAdd(store, os.Args[2:])
	case "remove":
		err = cmdRemove(store, os.Args[2:])
	case "list":
		err = cmdList(store)
	case "set-fallback":
		err = cmdSetFallback(store, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: switcherctl <command> [flags]

commands:
  add           --ssid NAME | --interface IFACE, plus --vpn NAME or --uuid UUID
  remove        --ssid NAME | --interface IFACE
  list          print the current trust map
  set-fallback  --vpn NAME or --uuid UUID (empty --uuid clears the fallback)`)
}

func cmdAdd(store *trust.Store, args []string) error {
	fs := flag.NewFlagSet("add", flag.ExitOnError)
	ssid := fs.String("ssid", "", "SSID to trust")
	iface := fs.String("interface", "", "interface name to trust (e.g. eth0)")
	vpnName := fs.String("vpn", "", "VPN connection name")
	uuid := fs.String("uuid", "", "VPN profile UUID (skips name lookup)")
	_ = fs.Parse(args)

	if (*ssid == "") == (*iface == "") {
		return fmt.Errorf("exactly one of --ssid or --interface is required")
	}
	profile, err := resolveProfile(*vpnName, *uuid)
	if err != nil {
		return err
	}

	rule := trust.Rule{SSID: *ssid, Interface: *iface, Profile: profile}
	if err := store.Add(rule); err != nil {
		return err
	}
	fmt.Printf("added rule: %s -> %s\n", rule.Matcher(), profile)
	return nil
}

func cmdRemove(store *trust.Store, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	ssid := fs.String("ssid", "", "SSID to remove")
	iface := fs.String("interface", "", "interface to remove")
	_ = fs.Parse(args)

	if (*ssid == "") == (*iface == "") {
		return fmt.Errorf("exactly one of --ssid or --interface is required")
	}
	key := trust.SSIDKey(*ssid)
	if *iface != "" {
		key = trust.InterfaceKey(*iface)
	}
	n, err := store.Remove(key)
	if err != nil {
		return err
	}
	fmt.Printf("removed %d matching rule(s)\n", n)
	return nil
}

func cmdList(store *trust.Store) error {
	m, err := store.Load()
	if err != nil {
		return err
	}
	fmt.Println("trusted connections:")
	for _, r := range m.Rules {
		fmt.Printf("  %-30s -> %s\n", r.Matcher(), r.Profile)
	}
	if m.Fallback != "" {
		fmt.Printf("fallback: %s\n", m.Fallback)
	} else {
		fmt.Println("fallback: (none)")
	}
	return nil
}

func cmdSetFallback(store *trust.Store, args []string) error {
	fs := flag.NewFlagSet("set-fallback", flag.ExitOnError)
	vpnName := fs.String("vpn", "", "VPN connection name")
	uuid := fs.String("uuid", "", "VPN profile UUID (empty clears the fallback)")
	_ = fs.Parse(args)

	// Clearing the fallback must be asked for explicitly (--uuid ""), never
	// be the accident of a flagless invocation.
	if fs.NFlag() == 0 {
		return fmt.Errorf(`--vpn or --uuid is required (pass --uuid "" to clear the fallback)`)
	}

	profile := *uuid
	if *vpnName != "" {
		var err error
		if profile, err = resolveProfile(*vpnName, *uuid); err != nil {
			return err
		}
	}
	if err := store.SetFallback(profile); err != nil {
		return err
	}
	if profile == "" {
		fmt.Println("fallback cleared")
	} else {
		fmt.Printf("fallback set to %s\n", profile)
	}
	return nil
}

// resolveProfile turns a VPN connection name into its UUID via
// NetworkManager; an explicit --uuid wins and works offline.
func resolveProfile(name, uuid string) (string, error) {
	if uuid != "" {
		return uuid, nil
	}
	if name == "" {
		return "", fmt.Errorf("--vpn or --uuid is required")
	}

	client, err := nm.Connect(time.Second, 10*time.Second)
	if err != nil {
		return "", fmt.Errorf("connect to NetworkManager (or pass --uuid): %w", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return client.ProfileIDByName(ctx, name)
}
