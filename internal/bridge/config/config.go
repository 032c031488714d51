package config

import (
	"flag"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the call bridge configuration
type Config struct {
	// HTTP settings
	HTTPAddr string // Address for webhook, signaling and API endpoints
	LogLevel string

	// Provider (WhatsApp Cloud API) settings
	GraphAPIBase    string // Base URL for the Graph API
	GraphAPIVersion string // API version segment (e.g. "v21.0")
	AccessToken     string // Bearer token for call actions
	PhoneNumberID   string // Business phone number id owning the calls
	VerifyToken     string // Webhook verification token
	AppSecret       string // HMAC secret for webhook signatures (optional)

	// Bridge timing
	TrackWaitTimeout time.Duration // Max wait for the provider's first audio track
	AcceptDelay      time.Duration // Delay between pre_accept and accept

	// WebRTC settings
	UDPPortMin    int
	UDPPortMax    int
	ICEServers    []string // STUN/TURN URLs (comma-separated in env)
	ICEUsername   string
	ICECredential string
}

// Load loads configuration from command line flags and environment variables
func Load() *Config {
	cfg := &Config{
		TrackWaitTimeout: 10 * time.Second,
		AcceptDelay:      1 * time.Second,
	}

	// Define flags
	flag.StringVar(&cfg.HTTPAddr, "addr", ":3000", "HTTP listen address")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.GraphAPIBase, "graph-api", "https://graph.facebook.com", "Graph API base URL")
	flag.StringVar(&cfg.GraphAPIVersion, "graph-version", "v21.0", "Graph API version")
	flag.StringVar(&cfg.VerifyToken, "verify-token", "", "Webhook verification token")
	flag.IntVar(&cfg.UDPPortMin, "udp-port-min", 0, "Lowest UDP port for media (0 = ephemeral)")
	flag.IntVar(&cfg.UDPPortMax, "udp-port-max", 0, "Highest UDP port for media (0 = ephemeral)")

	var iceServers string
	flag.StringVar(&iceServers, "ice-servers", "", "STUN/TURN server URLs (comma-separated)")

	flag.Parse()

	cfg.ICEServers = parseServerList(iceServers)

	// Override with environment variables if set
	if port := os.Getenv("PORT"); port != "" {
		if _, err := strconv.Atoi(port); err == nil {
			cfg.HTTPAddr = ":" + port
		}
	}
	if addr := os.Getenv("ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}
	if loglevel := os.Getenv("LOGLEVEL"); loglevel != "" {
		cfg.LogLevel = loglevel
	}
	if base := os.Getenv("GRAPH_API_BASE"); base != "" {
		cfg.GraphAPIBase = base
	}
	if version := os.Getenv("GRAPH_API_VERSION"); version != "" {
		cfg.GraphAPIVersion = version
	}
	if token := os.Getenv("WHATSAPP_TOKEN"); token != "" {
		cfg.AccessToken = token
	}
	if id := os.Getenv("PHONE_NUMBER_ID"); id != "" {
		cfg.PhoneNumberID = id
	}
	if token := os.Getenv("VERIFY_TOKEN"); token != "" {
		cfg.VerifyToken = token
	}
	if secret := os.Getenv("WHATSAPP_WEBHOOK_SECRET"); secret != "" {
		cfg.AppSecret = secret
	}
	if timeout := os.Getenv("TRACK_WAIT_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil && d > 0 {
			cfg.TrackWaitTimeout = d
		}
	}
	if delay := os.Getenv("ACCEPT_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil && d >= 0 {
			cfg.AcceptDelay = d
		}
	}
	if raw := os.Getenv("RTC_UDP_PORT_MIN"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			cfg.UDPPortMin = p
		}
	}
	if raw := os.Getenv("RTC_UDP_PORT_MAX"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			cfg.UDPPortMax = p
		}
	}
	if servers := os.Getenv("RTC_ICE_SERVERS"); servers != "" {
		cfg.ICEServers = parseServerList(servers)
	}
	if user := os.Getenv("RTC_ICE_USERNAME"); user != "" {
		cfg.ICEUsername = user
	}
	if cred := os.Getenv("RTC_ICE_CREDENTIAL"); cred != "" {
		cfg.ICECredential = cred
	}

	return cfg
}

// parseServerList parses a comma-separated list of server URLs
func parseServerList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	servers := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			servers = append(servers, p)
		}
	}
	return servers
}
