// Package metadata collects a snapshot's binlog/GTID/slave coordinates
// and writes them to the dump's metadata file, atomically.
package metadata

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/skeema/mydump/internal/model"
	"github.com/skeema/mydump/internal/server"
)

const timeLayout = "2006-01-02 15:04:05"

// CollectCoordinates queries instance for its current binlog position,
// GTID state, and (if any) replica positions. GTID
// source differs by vendor: the 5th column of SHOW MASTER STATUS for
// MySQL/Percona, else @@gtid_binlog_pos for MariaDB. Multisource
// replication (detected via a non-empty @@default_master_connection) is
// read via SHOW ALL SLAVES STATUS instead of SHOW SLAVE STATUS, and logs
// a warning if more than one replica is actively running.
func CollectCoordinates(instance *server.Instance, log *logrus.Logger) (model.SnapshotCoordinates, error) {
	var coords model.SnapshotCoordinates

	pool, err := instance.CachedConnectionPool("", "")
	if err != nil {
		return coords, err
	}

	masterRow, err := queryRow(pool, "SHOW MASTER STATUS")
	if err != nil {
		return coords, fmt.Errorf("SHOW MASTER STATUS: %w", err)
	}
	if masterRow != nil {
		coords.HasMaster = true
		coords.MasterLog = columnString(masterRow, "File")
		coords.MasterPosition = columnInt64(masterRow, "Position")
		if instance.Flavor().Vendor == server.VendorMariaDB {
			var gtid string
			if err := pool.Get(&gtid, "SELECT @@gtid_binlog_pos"); err == nil {
				coords.MasterGTID = gtid
			}
		} else {
			coords.MasterGTID = masterRow.byOrdinal(4) // 5th column, 0-indexed
		}
	}

	var masterConn string
	_ = pool.Get(&masterConn, "SELECT @@default_master_connection")
	multisource := masterConn != ""

	query := "SHOW SLAVE STATUS"
	if multisource {
		query = "SHOW ALL SLAVES STATUS"
	}
	rows, err := queryRows(pool, query)
	if err != nil {
		// Not every server/role combination supports these statements
		// (e.g. a pure master with no replicas configured); absence of
		// replication state is not fatal to the dump itself.
		log.Debugf("metadata: %s unavailable: %v", query, err)
		return coords, nil
	}

	active := 0
	for _, r := range rows {
		rc := model.ReplicaCoordinates{
			ConnectionName: columnString(r, "Connection_name"),
			Host:           firstNonEmpty(columnString(r, "Master_Host"), columnString(r, "Source_Host")),
			Log:            firstNonEmpty(columnString(r, "Relay_Master_Log_File"), columnString(r, "Master_Log_File")),
			Position:       columnInt64(r, "Exec_Master_Log_Pos"),
			GTID:           firstNonEmpty(columnString(r, "Executed_Gtid_Set"), columnString(r, "Gtid_Slave_Pos")),
		}
		coords.Replicas = append(coords.Replicas, rc)
		if strings.EqualFold(columnString(r, "Slave_IO_Running"), "Yes") || strings.EqualFold(columnString(r, "Replica_IO_Running"), "Yes") {
			active++
		}
	}
	if multisource && active > 1 {
		log.Warnf("metadata: %d replication channels are active under multisource replication; recording all of them", active)
	}

	return coords, nil
}

// WriteFile renders coords in mydumper's fixed metadata text layout to
// <dir>/metadata.partial, then renames it to <dir>/metadata. The rename
// is what makes a concurrently-running myloader treat the metadata file
// as either wholly absent or wholly complete, never partially written.
func WriteFile(dir string, coords model.SnapshotCoordinates) error {
	partial := filepath.Join(dir, "metadata.partial")
	final := filepath.Join(dir, "metadata")

	var b strings.Builder
	fmt.Fprintf(&b, "Started dump at: %s\n", coords.StartedAt.Format(timeLayout))
	// SHOW MASTER STATUS returning zero rows (a pure replica with no
	// binlog of its own) still leaves a SHOW SLAVE STATUS block below,
	// rather than silently synthesizing a MASTER block.
	if coords.HasMaster {
		fmt.Fprintf(&b, "SHOW MASTER STATUS:\n")
		fmt.Fprintf(&b, "    Log: %s\n", coords.MasterLog)
		fmt.Fprintf(&b, "    Pos: %d\n", coords.MasterPosition)
		fmt.Fprintf(&b, "    GTID:%s\n", coords.MasterGTID)
	}
	for _, r := range coords.Replicas {
		fmt.Fprintf(&b, "SHOW SLAVE STATUS:\n")
		if r.ConnectionName != "" {
			fmt.Fprintf(&b, "    Connection name: %s\n", r.ConnectionName)
		}
		fmt.Fprintf(&b, "    Host: %s\n", r.Host)
		fmt.Fprintf(&b, "    Log: %s\n", r.Log)
		fmt.Fprintf(&b, "    Pos: %d\n", r.Position)
		fmt.Fprintf(&b, "    GTID:%s\n", r.GTID)
	}
	fmt.Fprintf(&b, "Finished dump at: %s\n", coords.FinishedAt.Format(timeLayout))

	if err := os.WriteFile(partial, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", partial, err)
	}
	if err := os.Rename(partial, final); err != nil {
		return fmt.Errorf("renaming %s to %s: %w", partial, final, err)
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
