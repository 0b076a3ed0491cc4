package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_uplinkdash._tcp"
	mdnsDomain      = "local."
	mdnsLabelMax    = 63
	defaultMDNSName = "uplinkdash"
)

// startMDNS advertises the dashboard HTTP port on the local network.
func (a *App) startMDNS(port int) error {
	if port <= 0 {
		return fmt.Errorf("invalid port %d", port)
	}

	a.stopMDNS()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = defaultMDNSName
	}

	instance := mdnsInstanceName(hostname)
	txt := []string{
		fmt.Sprintf("http_port=%d", port),
		fmt.Sprintf("metrics_port=%d", a.cfg.MetricsPort),
		"api=/api",
		"proto=v1",
	}

	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("register mdns service: %w", err)
	}

	a.mdns = server
	a.logger.Info("mDNS advertisement started", "instance", instance, "service", mdnsServiceType, "port", port)
	return nil
}

func (a *App) stopMDNS() {
	if a.mdns == nil {
		return
	}

	a.mdns.Shutdown()
	a.logger.Info("mDNS advertisement stopped")
	a.mdns = nil
}

// mdnsInstanceName builds a single DNS-SD label: no dots or underscores, at most 63 runes.
func mdnsInstanceName(hostname string) string {
	replacer := strings.NewReplacer("\n", " ", "\r", " ", ".", " ", "_", " ")
	cleaned := strings.TrimSpace(replacer.Replace(fmt.Sprintf("Uplink Dashboard (%s)", strings.TrimSpace(hostname))))
	runes := []rune(cleaned)
	if len(runes) > mdnsLabelMax {
		cleaned = string(runes[:mdnsLabelMax])
	}
	return cleaned
}
