// Package uri parses catalog location strings into backend addresses.
package uri

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/stratumgis/stratum/internal/domain"
)

// Kind identifies a storage backend technology.
type Kind string

// Supported backend kinds.
const (
	KindHDFS      Kind = "hdfs"
	KindFile      Kind = "file"
	KindS3        Kind = "s3"
	KindAzure     Kind = "azure"
	KindCassandra Kind = "cassandra"
	KindHBase     Kind = "hbase"
	KindAccumulo  Kind = "accumulo"
	KindMBTiles   Kind = "mbtiles"
)

// CassandraAddress holds the address components of a Cassandra catalog.
type CassandraAddress struct {
	Host     string
	Username string
	Password string
	Keyspace string
	Table    string
}

// HBaseAddress holds the address components of an HBase catalog. The
// optional master is supplied out of band via backend options.
type HBaseAddress struct {
	Zookeepers []string
	Port       string
	Table      string
}

// AccumuloAddress holds the address components of an Accumulo catalog.
type AccumuloAddress struct {
	User       string
	Password   string
	Zookeepers string
	Instance   string
	Table      string
}

// Location is a parsed catalog location. Raw preserves the exact input
// string; it is the connection cache key, compared by string equality with
// no normalization.
type Location struct {
	Raw  string
	Kind Kind

	// Path is set for file, mbtiles and hdfs locations.
	Path string
	// Host is set for hdfs locations.
	Host string
	// Bucket and Prefix are set for s3 and azure locations.
	Bucket string
	Prefix string

	Cassandra CassandraAddress
	HBase     HBaseAddress
	Accumulo  AccumuloAddress
}

// cassandraRequired lists the parameters a cassandra location must carry.
var cassandraRequired = []string{"host", "username", "password", "keyspace", "table"}

// Parse splits a location string into its backend kind and the
// backend-specific address components. An unrecognized scheme fails with an
// unsupported-backend error naming the scheme.
func Parse(location string) (Location, error) {
	scheme, rest, found := strings.Cut(location, "://")
	if !found || scheme == "" {
		return Location{}, &domain.LocationError{
			Location: location,
			Field:    "scheme",
			Message:  "expected scheme://...",
		}
	}

	loc := Location{Raw: location, Kind: Kind(scheme)}

	switch loc.Kind {
	case KindFile:
		loc.Path = rest

	case KindMBTiles:
		loc.Path = rest

	case KindHDFS:
		authority, path, _ := strings.Cut(rest, "/")
		loc.Host = authority
		loc.Path = "/" + path

	case KindS3, KindAzure:
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return Location{}, &domain.LocationError{
				Location: location,
				Field:    "authority",
				Message:  "bucket or container name is required",
			}
		}
		loc.Bucket = bucket
		loc.Prefix = prefix

	case KindCassandra:
		return parseCassandra(location, rest)

	case KindHBase:
		return parseHBase(location, rest)

	case KindAccumulo:
		// url.Parse would reject the user:password authority as an
		// invalid port, so the accumulo grammar is split by hand.
		return parseAccumulo(location, rest)

	default:
		return Location{}, fmt.Errorf("location %q: scheme %s: %w",
			location, strconv.Quote(scheme), domain.ErrUnsupportedBackend)
	}

	return loc, nil
}

// parseCassandra reads the key=value query pairs of a cassandra location:
// cassandra://?host=...&username=...&password=...&keyspace=...&table=...
// A missing required key is a contract violation, not a recoverable state.
func parseCassandra(location, rest string) (Location, error) {
	_, query, _ := strings.Cut(rest, "?")
	params, err := url.ParseQuery(query)
	if err != nil {
		return Location{}, &domain.LocationError{
			Location: location,
			Field:    "query",
			Message:  err.Error(),
		}
	}

	for _, key := range cassandraRequired {
		if params.Get(key) == "" {
			return Location{}, &domain.LocationError{
				Location: location,
				Field:    key,
				Message:  "required cassandra parameter is missing",
			}
		}
	}

	return Location{
		Raw:  location,
		Kind: KindCassandra,
		Cassandra: CassandraAddress{
			Host:     params.Get("host"),
			Username: params.Get("username"),
			Password: params.Get("password"),
			Keyspace: params.Get("keyspace"),
			Table:    params.Get("table"),
		},
	}, nil
}

// parseHBase reads a zookeeper-style location:
// hbase://zoo1,zoo2,...,zooN:port/table
func parseHBase(location, rest string) (Location, error) {
	authority, table, _ := strings.Cut(rest, "/")

	idx := strings.LastIndex(authority, ":")
	if idx < 1 || idx == len(authority)-1 {
		return Location{}, &domain.LocationError{
			Location: location,
			Field:    "authority",
			Message:  "expected zookeeper-list:port",
		}
	}
	hostList, port := authority[:idx], authority[idx+1:]

	if table == "" {
		return Location{}, &domain.LocationError{
			Location: location,
			Field:    "path",
			Message:  "table name is required",
		}
	}

	return Location{
		Raw:  location,
		Kind: KindHBase,
		HBase: HBaseAddress{
			Zookeepers: splitHosts(hostList),
			Port:       port,
			Table:      table,
		},
	}, nil
}

// parseAccumulo reads a location of the form:
// accumulo://user:password/zoo1,zoo2/instance/table
func parseAccumulo(location, rest string) (Location, error) {
	authority, path, _ := strings.Cut(rest, "/")

	user, password, found := strings.Cut(authority, ":")
	if !found || user == "" {
		return Location{}, &domain.LocationError{
			Location: location,
			Field:    "authority",
			Message:  "expected user:password",
		}
	}

	segments := strings.Split(path, "/")
	if len(segments) != 3 || segments[0] == "" || segments[1] == "" || segments[2] == "" {
		return Location{}, &domain.LocationError{
			Location: location,
			Field:    "path",
			Message:  "expected /zookeeper-list/instance/table",
		}
	}

	return Location{
		Raw:  location,
		Kind: KindAccumulo,
		Accumulo: AccumuloAddress{
			User:       user,
			Password:   password,
			Zookeepers: segments[0],
			Instance:   segments[1],
			Table:      segments[2],
		},
	}, nil
}

// splitHosts splits a comma-delimited host list, trimming whitespace.
func splitHosts(s string) []string {
	parts := strings.Split(s, ",")
	hosts := make([]string, 0, len(parts))
	for _, p := range parts {
		if h := strings.TrimSpace(p); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts
}
