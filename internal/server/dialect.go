// Package server detects the MySQL-family server a dump or load run is
// talking to, and opens sessions against it: given an open connection,
// it identifies vendor/version and picks the lock strategy and snapshot
// mechanism the rest of the run should use.
package server

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Vendor represents an upstream DBMS distribution.
type Vendor uint8

// Constants representing the server families this package can detect.
// VendorUnknown must remain the zero value.
const (
	VendorUnknown Vendor = iota
	VendorMySQL
	VendorPercona
	VendorMariaDB
	VendorTiDB
	VendorDrizzle
)

func (v Vendor) String() string {
	switch v {
	case VendorMySQL:
		return "mysql"
	case VendorPercona:
		return "percona"
	case VendorMariaDB:
		return "mariadb"
	case VendorTiDB:
		return "tidb"
	case VendorDrizzle:
		return "drizzle"
	default:
		return "unknown"
	}
}

// Version represents a (major, minor, patch) version number tuple.
type Version [3]int

func (ver Version) String() string {
	return fmt.Sprintf("%d.%d.%d", ver[0], ver[1], ver[2])
}

func (ver Version) pack() int64 {
	return int64(ver[0])<<32 | int64(ver[1])<<16 | int64(ver[2])
}

// AtLeast returns true if ver is greater than or equal to other.
func (ver Version) AtLeast(other Version) bool {
	return ver.pack() >= other.pack()
}

var versionRe = regexp.MustCompile(`(\d+)\.(\d+)\.(\d+)`)

// ParseVersion parses the leading "major.minor.patch" portion of a version
// string such as the @@version server variable. Any non-numeric prefix is
// tolerated; a failed parse yields the zero Version.
func ParseVersion(s string) Version {
	matches := versionRe.FindStringSubmatch(s)
	if matches == nil {
		return Version{}
	}
	var result Version
	for n := range result {
		v, err := strconv.Atoi(matches[n+1])
		if err != nil {
			return Version{}
		}
		result[n] = v
	}
	return result
}

// Flavor identifies a server release: vendor plus version.
type Flavor struct {
	Vendor  Vendor
	Version Version
}

// FlavorUnknown is the zero value of Flavor.
var FlavorUnknown = Flavor{}

// Known returns true if the vendor was successfully identified.
func (fl Flavor) Known() bool {
	return fl.Vendor != VendorUnknown
}

// Min returns true if fl is the same vendor as other and fl's version is at
// least other's.
func (fl Flavor) Min(other Flavor) bool {
	return fl.Vendor == other.Vendor && fl.Version.AtLeast(other.Version)
}

func (fl Flavor) String() string {
	return fmt.Sprintf("%s:%s", fl.Vendor, fl.Version)
}

// IdentifyFlavor determines a Flavor from the @@version and @@version_comment
// server variables.
func IdentifyFlavor(version, versionComment string) Flavor {
	lowerComment := strings.ToLower(versionComment)
	lowerVersion := strings.ToLower(version)
	fl := Flavor{Version: ParseVersion(version)}

	switch {
	case strings.Contains(lowerVersion, "tidb"):
		fl.Vendor = VendorTiDB
	case strings.Contains(lowerComment, "percona"):
		fl.Vendor = VendorPercona
	case strings.Contains(lowerComment, "mariadb"):
		fl.Vendor = VendorMariaDB
	case strings.Contains(lowerComment, "drizzle"):
		fl.Vendor = VendorDrizzle
	case strings.Contains(lowerComment, "mysql") || lowerComment == "":
		fl.Vendor = VendorMySQL
	default:
		fl.Vendor = VendorUnknown
	}
	return fl
}

// LockStrategyKind names the family of backup-lock mechanism a Flavor uses.
type LockStrategyKind int

// Constants enumerating lock strategy kinds.
const (
	LockStrategyNone LockStrategyKind = iota
	LockStrategyInstanceBackup              // MySQL 8 / Percona 8: LOCK INSTANCE FOR BACKUP
	LockStrategyPercona57                   // Percona 5.7: LOCK TABLES FOR BACKUP + LOCK BINLOG FOR BACKUP
	LockStrategyMariaDBBackupStage          // MariaDB 10.5+: BACKUP STAGE sequence
)

// LockStrategy captures the acquire/release SQL for the engine-specific
// backup lock. A zero-value Acquire/Release means that step is a no-op
// for this flavor.
type LockStrategy struct {
	Kind            LockStrategyKind
	Acquire         []string // statements to run, in order, to acquire the lock
	Release         []string // statements to run, in order, to release the lock
	ReleaseBinlog   []string // Percona 5.7 only: separate release for the binlog lock
	NeedsSecondConn bool     // true only for Percona 5.7: release must happen from a different session
}

// DetectLockStrategy returns the lock strategy this flavor should use for
// backup locking. TiDB and unrecognized flavors return LockStrategyNone: TiDB relies purely on tidb_snapshot, and
// an unrecognized flavor simply gets no server-specific backup lock (the
// caller still has FTWRL/LOCK TABLES available via internal/lock).
func DetectLockStrategy(fl Flavor) LockStrategy {
	switch {
	case fl.Vendor == VendorTiDB:
		return LockStrategy{Kind: LockStrategyNone}
	case (fl.Vendor == VendorMySQL || fl.Vendor == VendorPercona) && fl.Min(Flavor{Vendor: fl.Vendor, Version: Version{8, 0, 0}}):
		return LockStrategy{
			Kind:    LockStrategyInstanceBackup,
			Acquire: []string{"LOCK INSTANCE FOR BACKUP"},
			Release: []string{"UNLOCK INSTANCE"},
		}
	case fl.Vendor == VendorPercona && fl.Min(Flavor{Vendor: VendorPercona, Version: Version{5, 7, 0}}):
		return LockStrategy{
			Kind:            LockStrategyPercona57,
			Acquire:         []string{"LOCK TABLES FOR BACKUP", "LOCK BINLOG FOR BACKUP"},
			Release:         []string{"UNLOCK TABLES"},
			ReleaseBinlog:   []string{"UNLOCK BINLOG"},
			NeedsSecondConn: true,
		}
	case fl.Vendor == VendorMariaDB && fl.Min(Flavor{Vendor: VendorMariaDB, Version: Version{10, 5, 0}}):
		return LockStrategy{
			Kind:    LockStrategyMariaDBBackupStage,
			Acquire: []string{"BACKUP STAGE START", "BACKUP STAGE FLUSH", "BACKUP STAGE BLOCK_DDL", "BACKUP STAGE BLOCK_COMMIT"},
			Release: []string{"BACKUP STAGE END"},
		}
	default:
		return LockStrategy{Kind: LockStrategyNone}
	}
}
