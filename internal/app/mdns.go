package app

import (
	"fmt"
	"os"
	"strings"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_stationstore._tcp"
	mdnsDomain      = "local."
	maxLabelRunes   = 63
)

// startMDNS advertises the HTTP API so cache nodes on the LAN can find the
// blob endpoint and the invalidation hub.
func (a *App) startMDNS(port int) error {
	if port <= 0 {
		return fmt.Errorf("invalid port %d", port)
	}

	a.stopMDNS()

	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "stationstore"
	}

	instance := instanceName(hostname)
	server, err := zeroconf.Register(instance, mdnsServiceType, mdnsDomain, port, a.mdnsTXT(port, hostname), nil)
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

// mdnsTXT describes where the public API, the blob objects and (when
// running) the invalidation hub live.
func (a *App) mdnsTXT(port int, hostname string) []string {
	txt := []string{
		fmt.Sprintf("http_port=%d", port),
		"api=/api/stations",
		"blob=/blob/",
		"proto=v1",
		"host=" + hostFQDN(hostname),
	}
	if a.hub != nil {
		if addr := a.hub.Addr(); addr != nil {
			txt = append(txt, "hub="+addr.String())
		}
		txt = append(txt, "topic_prefix="+a.cfg.Invalidation.TopicPrefix)
	}
	return txt
}

func instanceName(hostname string) string {
	name := strings.TrimSpace(fmt.Sprintf("Station Store (%s)", strings.TrimSpace(hostname)))
	name = strings.NewReplacer("\n", " ", "\r", " ", ".", " ", "_", " ").Replace(name)
	return truncateLabel(name)
}

func hostFQDN(hostname string) string {
	label := strings.ToLower(strings.TrimSpace(hostname))
	label = strings.NewReplacer(" ", "-", "_", "-", "\n", "", "\r", "").Replace(label)
	if label == "" {
		label = "stationstore"
	}
	label = truncateLabel(label)
	if strings.Contains(label, ".") {
		return label
	}
	return label + ".local"
}

func truncateLabel(s string) string {
	if runes := []rune(s); len(runes) > maxLabelRunes {
		return string(runes[:maxLabelRunes])
	}
	return s
}
