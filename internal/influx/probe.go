// Package influx checks that the InfluxDB endpoint a node is configured for
// answers and holds the target database. It never writes points.
package influx

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	client "github.com/influxdata/influxdb1-client/v2"
	"github.com/sirupsen/logrus"

	"github.com/rwd-iot/sensornode/internal/config"
)

var (
	// ErrUnreachable is returned when the ping fails.
	ErrUnreachable = errors.New("influxdb unreachable")
	// ErrQuery is returned when SHOW DATABASES fails, usually on bad credentials.
	ErrQuery = errors.New("influxdb query failed")
	// ErrDatabaseMissing is returned when the configured database does not exist.
	ErrDatabaseMissing = errors.New("database does not exist")
)

// Report describes what the probe found.
type Report struct {
	URL            string
	RTT            time.Duration
	Version        string
	Databases      []string
	DatabaseExists bool
}

// Prober talks to one InfluxDB 1.x endpoint.
type Prober struct {
	db      config.InfluxDB
	timeout time.Duration
	logger  *logrus.Logger
}

// NewProber creates a prober for the database settings of a node.
func NewProber(db config.InfluxDB, timeout time.Duration, logger *logrus.Logger) *Prober {
	if timeout <= 0 {
		timeout = config.ProbeTimeout
	}
	return &Prober{db: db, timeout: timeout, logger: logger}
}

// Probe pings the server and looks up the configured database. The report is
// filled as far as the probe got, also when an error is returned.
func (p *Prober) Probe(ctx context.Context) (*Report, error) {
	rep := &Report{URL: p.db.URL}

	c, err := client.NewHTTPClient(client.HTTPConfig{
		Addr:      p.db.URL,
		Username:  p.db.Username,
		Password:  p.db.Password,
		Timeout:   p.timeout,
		UserAgent: "nodecfg",
	})
	if err != nil {
		return rep, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer c.Close()

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	rtt, version, err := c.Ping(p.timeout)
	if err != nil {
		return rep, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	rep.RTT, rep.Version = rtt, version
	p.logger.WithFields(logrus.Fields{
		"rtt":     rtt,
		"version": version,
	}).Debug("InfluxDB ping")

	if err := ctx.Err(); err != nil {
		return rep, err
	}
	resp, err := c.Query(client.NewQuery("SHOW DATABASES", "", ""))
	if err == nil {
		err = resp.Error()
	}
	if err != nil {
		return rep, fmt.Errorf("%w: %w", ErrQuery, err)
	}
	rep.Databases = databaseNames(resp)
	rep.DatabaseExists = slices.Contains(rep.Databases, p.db.Database)
	if !rep.DatabaseExists {
		return rep, fmt.Errorf("%w: %q", ErrDatabaseMissing, p.db.Database)
	}
	return rep, nil
}

func databaseNames(resp *client.Response) []string {
	var names []string
	for _, res := range resp.Results {
		for _, s := range res.Series {
			for _, row := range s.Values {
				if len(row) == 0 {
					continue
				}
				if name, ok := row[0].(string); ok {
					names = append(names, name)
				}
			}
		}
	}
	return names
}
