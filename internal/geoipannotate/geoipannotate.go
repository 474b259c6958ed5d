// Package geoipannotate annotates a candidate or pinned IP with its country
// and autonomous-system owner for diagnostics, surfaced in logs. It reuses internal/geoip's hot-reloading,
// cron-scheduled Service verbatim for both lookups — one instance per
// database — rather than reimplementing database refresh and staleness
// detection a second time.
package geoipannotate

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/oschwald/maxminddb-golang"

	"github.com/anyfast/anyfast-core/internal/geoip"
	"github.com/anyfast/anyfast-core/internal/netutil"
)

// Config configures both underlying GeoIP services. Country and ASN
// databases share one cache directory and refresh schedule.
type Config struct {
	CacheDir       string
	UpdateSchedule string // cron expression, default "0 7 * * *"
	Downloader     netutil.Downloader
}

// Annotation is the diagnostic enrichment attached to one IP.
type Annotation struct {
	Country string // lowercase ISO country code, "" if unknown
	ASN     string // "AS<number> <org>", "" if unknown
}

// Service looks up country and ASN metadata for an IP, keeping both
// databases current in the background.
type Service struct {
	country *geoip.Service
	asn     *geoip.Service
}

// New builds a Service. Call Start to load any existing databases and
// begin the background refresh schedules; call Stop to release both.
func New(cfg Config) *Service {
	return &Service{
		country: geoip.NewService(geoip.ServiceConfig{
			CacheDir:       cfg.CacheDir,
			DBFilename:     "country.mmdb",
			UpdateSchedule: cfg.UpdateSchedule,
			OpenDB:         geoip.MMDBOpen,
			Downloader:     cfg.Downloader,
		}),
		asn: geoip.NewService(geoip.ServiceConfig{
			CacheDir:       cfg.CacheDir,
			DBFilename:     "asn.mmdb",
			UpdateSchedule: cfg.UpdateSchedule,
			OpenDB:         openASN,
			Downloader:     cfg.Downloader,
		}),
	}
}

// Start loads both databases (if present) and starts both refresh
// schedules. It returns the first start error; if the country service fails
// to start, the ASN service is not started. A lookup against a service with
// no loaded database yields an empty field in the Annotation.
func (s *Service) Start() error {
	if err := s.country.Start(); err != nil {
		return fmt.Errorf("geoipannotate: country: %w", err)
	}
	if err := s.asn.Start(); err != nil {
		return fmt.Errorf("geoipannotate: asn: %w", err)
	}
	return nil
}

// Stop releases both readers and stops both cron schedules.
func (s *Service) Stop() {
	s.country.Stop()
	s.asn.Stop()
}

// Annotate looks up country and ASN metadata for ip. Returns a zero-value
// Annotation if ip does not parse or no database is loaded yet.
func (s *Service) Annotate(ip string) Annotation {
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return Annotation{}
	}
	return Annotation{
		Country: s.country.Lookup(addr),
		ASN:     s.asn.Lookup(addr),
	}
}

// asnReader implements geoip.GeoReader against a GeoLite2-ASN-shaped mmdb.
type asnReader struct {
	reader *maxminddb.Reader
}

type asnRecord struct {
	AutonomousSystemNumber       uint   `maxminddb:"autonomous_system_number"`
	AutonomousSystemOrganization string `maxminddb:"autonomous_system_organization"`
}

func (a *asnReader) Lookup(ip netip.Addr) string {
	if a == nil || a.reader == nil || !ip.IsValid() {
		return ""
	}
	var record asnRecord
	if err := a.reader.Lookup(net.IP(ip.Unmap().AsSlice()), &record); err != nil {
		return ""
	}
	if record.AutonomousSystemNumber == 0 {
		return ""
	}
	if record.AutonomousSystemOrganization == "" {
		return fmt.Sprintf("AS%d", record.AutonomousSystemNumber)
	}
	return fmt.Sprintf("AS%d %s", record.AutonomousSystemNumber, record.AutonomousSystemOrganization)
}

func (a *asnReader) Close() error {
	if a == nil || a.reader == nil {
		return nil
	}
	return a.reader.Close()
}

// openASN opens a GeoLite2-ASN-shaped mmdb database as a geoip.GeoReader.
func openASN(path string) (geoip.GeoReader, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, err
	}
	return &asnReader{reader: reader}, nil
}
