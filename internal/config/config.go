package config

import (
	"flag"
	"net"
	"os"
	"strconv"
	"time"
)

// Defaults matching the doorbell firmware.
const (
	DefaultSIPPort      = 5062
	DefaultRTPPort      = 40000
	DefaultRTSPPort     = 8554
	DefaultProxyPort    = 5060
	DefaultUserAgent    = "Doorbell/1.0"
	RegisterInterval    = 60 * time.Second
	RegisterExpires     = 120
	DefaultRingDuration = 30 * time.Second
)

// Config holds the doorbell configuration
type Config struct {
	// SIP account settings
	SIPUser        string // Account user at the registrar (e.g., "doorbell")
	SIPPassword    string
	SIPDisplayName string
	SIPDomain      string // Registrar domain (e.g., "fritz.box")
	SIPProxy       string // Outbound proxy host or host:port
	RingTarget     string // Extension dialed when the button is pressed (e.g., "**9")

	// Network settings
	BindAddr      string // Address to bind for listening
	AdvertiseAddr string // Address placed in Via/Contact/SDP headers
	SIPPort       int    // Local SIP signaling port
	RTPPort       int    // Local RTP audio port
	RTSPPort      int    // RTSP server port

	// RTSP settings
	RTSPAllowUDP bool // Permit RTP/AVP/UDP transport in SETUP

	LogLevel string
}

// Load loads configuration from command line flags and environment variables
func Load() *Config {
	cfg := &Config{}

	// Define flags
	flag.StringVar(&cfg.SIPUser, "sipuser", "doorbell", "SIP account username")
	flag.StringVar(&cfg.SIPPassword, "sippass", "", "SIP account password")
	flag.StringVar(&cfg.SIPDisplayName, "sipname", "Doorbell", "SIP display name")
	flag.StringVar(&cfg.SIPDomain, "sipdomain", "fritz.box", "SIP registrar domain")
	flag.StringVar(&cfg.SIPProxy, "sipproxy", "", "SIP outbound proxy (defaults to the registrar domain)")
	flag.StringVar(&cfg.RingTarget, "ringtarget", "**9", "Extension to call on button press")
	flag.StringVar(&cfg.BindAddr, "bind", "0.0.0.0", "Bind address")
	flag.StringVar(&cfg.AdvertiseAddr, "advertise", "", "Address to advertise in SIP headers (auto-detected if not set)")
	flag.IntVar(&cfg.SIPPort, "sipport", DefaultSIPPort, "Local SIP signaling port")
	flag.IntVar(&cfg.RTPPort, "rtpport", DefaultRTPPort, "Local RTP audio port")
	flag.IntVar(&cfg.RTSPPort, "rtspport", DefaultRTSPPort, "RTSP server port")
	flag.BoolVar(&cfg.RTSPAllowUDP, "rtspudp", true, "Allow UDP transport for RTSP streaming")
	flag.StringVar(&cfg.LogLevel, "loglevel", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	// Override with environment variables if set
	if v := os.Getenv("SIP_USER"); v != "" {
		cfg.SIPUser = v
	}
	if v := os.Getenv("SIP_PASSWORD"); v != "" {
		cfg.SIPPassword = v
	}
	if v := os.Getenv("SIP_DISPLAY_NAME"); v != "" {
		cfg.SIPDisplayName = v
	}
	if v := os.Getenv("SIP_DOMAIN"); v != "" {
		cfg.SIPDomain = v
	}
	if v := os.Getenv("SIP_PROXY"); v != "" {
		cfg.SIPProxy = v
	}
	if v := os.Getenv("RING_TARGET"); v != "" {
		cfg.RingTarget = v
	}
	if v := os.Getenv("BIND"); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv("ADVERTISE"); v != "" {
		cfg.AdvertiseAddr = v
	}
	if v := os.Getenv("SIP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.SIPPort = p
		}
	}
	if v := os.Getenv("RTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.RTPPort = p
		}
	}
	if v := os.Getenv("RTSP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.RTSPPort = p
		}
	}
	if v := os.Getenv("RTSP_ALLOW_UDP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.RTSPAllowUDP = b
		}
	}
	if v := os.Getenv("LOGLEVEL"); v != "" {
		cfg.LogLevel = v
	}

	// Validate and fallback to auto-detection if invalid
	if cfg.AdvertiseAddr == "" || !isValidAddress(cfg.AdvertiseAddr) {
		cfg.AdvertiseAddr = getPrimaryInterfaceIP()
	}
	if cfg.SIPProxy == "" {
		cfg.SIPProxy = cfg.SIPDomain
	}

	return cfg
}

// ProxyHostPort returns the proxy address with the default SIP port applied
// when the configured value carries no port.
func (c *Config) ProxyHostPort() string {
	if _, _, err := net.SplitHostPort(c.SIPProxy); err == nil {
		return c.SIPProxy
	}
	return net.JoinHostPort(c.SIPProxy, strconv.Itoa(DefaultProxyPort))
}

// isValidAddress checks if the address is a valid IP or resolvable hostname
func isValidAddress(addr string) bool {
	if ip := net.ParseIP(addr); ip != nil {
		return true
	}
	if ips, err := net.LookupIP(addr); err == nil && len(ips) > 0 {
		return true
	}
	return false
}

// getPrimaryInterfaceIP detects the primary network interface IP address
func getPrimaryInterfaceIP() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return "127.0.0.1"
	}

	for _, iface := range interfaces {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}

		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				return ipnet.IP.String()
			}
		}
	}

	return "127.0.0.1"
}
