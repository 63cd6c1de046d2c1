package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// SplitHostOptionalPort splits a host address into host and port, with port
// defaulting to 0 if absent. Handles bare IPv6 addresses in brackets.
func SplitHostOptionalPort(hostaddr string) (string, int, error) {
	if len(hostaddr) == 0 {
		return "", 0, errors.New("cannot parse blank host address")
	}
	if (hostaddr[0] == '[' && hostaddr[len(hostaddr)-1] == ']') || len(strings.Split(hostaddr, ":")) == 1 {
		return hostaddr, 0, nil
	}
	host, portString, err := net.SplitHostPort(hostaddr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portString)
	if err != nil {
		return "", 0, err
	} else if port < 1 {
		return "", 0, fmt.Errorf("invalid port %d supplied", port)
	}
	return host, port, nil
}

// baseDSN strips the schema name (and anything after it) from a DSN,
// leaving a trailing slash.
func baseDSN(dsn string) string {
	tokens := strings.SplitAfter(dsn, "/")
	return strings.Join(tokens[0:len(tokens)-1], "")
}

// paramMap builds a map of all params in the DSN. This doesn't rely on
// mysql.ParseDSN since that handles some vars separately and doesn't
// surface every param passed in.
func paramMap(dsn string) map[string]string {
	parts := strings.Split(dsn, "?")
	if len(parts) == 1 {
		return make(map[string]string)
	}
	values, _ := url.ParseQuery(parts[len(parts)-1])
	result := make(map[string]string, len(values))
	for key := range values {
		result[key] = values.Get(key)
	}
	return result
}

// EscapeIdentifier wraps a MySQL identifier (schema, table, or column name)
// in backticks, doubling any embedded backtick.
func EscapeIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}
