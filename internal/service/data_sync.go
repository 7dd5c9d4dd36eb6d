package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"dbsync/internal/config"
	"dbsync/internal/db"
)

// deleteBatchSize bounds the number of keys in one DELETE ... IN statement.
const deleteBatchSize = 100

// witnessNames are the column names recognized as update witnesses.
var witnessNames = map[string]bool{
	"updated_at":    true,
	"modified_at":   true,
	"timestamp":     true,
	"last_modified": true,
}

// TableSyncState is the per-table bookkeeping that drives the witness
// window. In-memory only; reset when the worker restarts.
type TableSyncState struct {
	LastSyncTime time.Time
	RowCount     int64
}

// DataSyncer detects and replays INSERT/UPDATE/DELETE per table using only
// read queries against live tables.
type DataSyncer struct {
	source db.Adapter
	target db.Adapter
	pair   config.PairSpec
	state  map[string]*TableSyncState
}

// NewDataSyncer builds a data differ for one pair.
func NewDataSyncer(source, target db.Adapter, pair config.PairSpec) *DataSyncer {
	return &DataSyncer{
		source: source,
		target: target,
		pair:   pair,
		state:  make(map[string]*TableSyncState),
	}
}

// selectTables lists source tables admitted by the pair's filters.
func (d *DataSyncer) selectTables() ([]db.TableDescriptor, error) {
	tables, err := d.source.GetTables()
	if err != nil {
		return nil, err
	}
	var selected []db.TableDescriptor
	for _, t := range tables {
		if d.pair.SelectsTable(t.Name) {
			selected = append(selected, t)
		}
	}
	return selected, nil
}

// InitialSync performs the one-shot bulk load after connect. An empty
// target table is truncated and loaded wholesale; a keyed non-empty table
// is reconciled; a keyless non-empty table is left untouched.
func (d *DataSyncer) InitialSync() *SyncResult {
	start := time.Now()
	result := &SyncResult{}

	tables, err := d.selectTables()
	if err != nil {
		result.addError("failed to list source tables: %v", err)
		return result.finish(start)
	}

	for _, t := range tables {
		if err := d.initialSyncTable(t, result); err != nil {
			logrus.Errorf("Initial sync of table %s failed: %v", t.Name, err)
			result.addError("table %s: %v", t.Name, err)
			continue
		}
		result.TablesSynced++
	}
	return result.finish(start)
}

func (d *DataSyncer) initialSyncTable(t db.TableDescriptor, result *SyncResult) error {
	count, err := d.target.CountRows(t.Name)
	if err != nil {
		// Likely missing on target; the next schema tick creates it.
		return err
	}

	if count == 0 {
		if err := d.target.TruncateTable(t.Name); err != nil {
			return err
		}
		rows, err := d.source.SelectAll(t.Name)
		if err != nil {
			return err
		}
		inserted, err := d.target.InsertRows(t.Name, rows)
		if err != nil {
			return err
		}
		if inserted > 0 {
			logrus.Infof("Inserted %d new rows in table: %s", inserted, t.Name)
		}
		result.RowsAffected += inserted
		d.state[t.Name] = &TableSyncState{LastSyncTime: time.Now(), RowCount: inserted}
		return nil
	}

	pk, err := d.target.GetPrimaryKey(t.Name)
	if err != nil {
		return err
	}
	if pk == "" {
		// Without a target key the differ cannot merge safely; leave the
		// pre-existing target data alone.
		logrus.Warnf("Table %s has no primary key and target is not empty, skipping initial data sync", t.Name)
		d.state[t.Name] = &TableSyncState{LastSyncTime: time.Now(), RowCount: 0}
		return nil
	}
	return d.reconcileByKey(t, pk, result)
}

// SyncTick runs one steady-state data poll across the selected tables.
func (d *DataSyncer) SyncTick() *SyncResult {
	start := time.Now()
	result := &SyncResult{}

	tables, err := d.selectTables()
	if err != nil {
		result.addError("failed to list source tables: %v", err)
		return result.finish(start)
	}

	for _, t := range tables {
		pk, err := d.target.GetPrimaryKey(t.Name)
		if err == nil {
			if pk != "" {
				err = d.reconcileByKey(t, pk, result)
			} else {
				logrus.Warnf("Table %s has no primary key, falling back to row count comparison", t.Name)
				err = d.countFallback(t, result)
			}
		}
		if err != nil {
			logrus.Errorf("Data sync of table %s failed: %v", t.Name, err)
			result.addError("table %s: %v", t.Name, err)
			continue
		}
		result.TablesSynced++
	}
	return result.finish(start)
}

// reconcileByKey is the PK set-difference algorithm: inserts from S\T,
// witness-windowed updates on the intersection, deletes from T\S. Phases
// run strictly in that order.
func (d *DataSyncer) reconcileByKey(t db.TableDescriptor, pk string, result *SyncResult) error {
	sourceKeys, err := d.fetchKeys(d.source, t.Name, pk)
	if err != nil {
		return err
	}
	targetKeys, err := d.fetchKeys(d.target, t.Name, pk)
	if err != nil {
		return err
	}

	var affected int64

	// Inserts: keys on source but not on target, in server order.
	var missing []interface{}
	for _, k := range sourceKeys.order {
		if !targetKeys.has(k) {
			missing = append(missing, sourceKeys.values[k])
		}
	}
	if len(missing) > 0 {
		inserted, err := d.copyRowsByKey(t.Name, pk, missing)
		if err != nil {
			return err
		}
		logrus.Infof("Inserted %d new rows in table: %s", inserted, t.Name)
		affected += inserted
	}

	// Updates: only with a witness column and a prior window to filter on.
	// Rows that change without touching the witness are not detected.
	witness := witnessColumn(t.Columns)
	if st := d.state[t.Name]; witness != "" && st != nil && !st.LastSyncTime.IsZero() {
		changed, err := d.source.SelectWhere(t.Name, witness, st.LastSyncTime)
		if err != nil {
			return err
		}
		if len(changed) > 0 {
			updated, err := d.target.UpsertRows(t.Name, changed, pk)
			if err != nil {
				return err
			}
			logrus.Infof("Updated %d rows in table: %s", updated, t.Name)
			affected += updated
		}
	}

	// Deletes: keys on target but not on source, batched.
	var stale []interface{}
	for _, k := range targetKeys.order {
		if !sourceKeys.has(k) {
			stale = append(stale, targetKeys.values[k])
		}
	}
	if len(stale) > 0 {
		var deleted int64
		for start := 0; start < len(stale); start += deleteBatchSize {
			end := start + deleteBatchSize
			if end > len(stale) {
				end = len(stale)
			}
			n, err := d.target.DeleteRows(t.Name, pk, stale[start:end])
			if err != nil {
				return err
			}
			deleted += n
		}
		logrus.Infof("Deleted %d rows from table: %s", deleted, t.Name)
		affected += deleted
	}

	if affected > 0 {
		d.state[t.Name] = &TableSyncState{LastSyncTime: time.Now(), RowCount: affected}
		result.RowsAffected += affected
	}
	return nil
}

// copyRowsByKey pulls full rows for the given keys from the source and
// loads them into the target, batched to bound the IN list.
func (d *DataSyncer) copyRowsByKey(table, pk string, keys []interface{}) (int64, error) {
	var total int64
	for start := 0; start < len(keys); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[start:end]

		markers := make([]string, len(batch))
		for i := range batch {
			markers[i] = d.source.Placeholder(i + 1)
		}
		query := fmt.Sprintf("SELECT * FROM %s WHERE %s IN (%s)",
			d.source.EscapeIdentifier(table),
			d.source.EscapeIdentifier(pk),
			strings.Join(markers, ", "))

		rows, err := d.source.Query(query, batch...)
		if err != nil {
			return total, err
		}
		inserted, err := d.target.InsertRows(table, rows)
		if err != nil {
			return total, err
		}
		total += inserted
	}
	return total, nil
}

// countFallback compares row counts when the target table is keyless.
func (d *DataSyncer) countFallback(t db.TableDescriptor, result *SyncResult) error {
	sourceCount, err := d.source.CountRows(t.Name)
	if err != nil {
		return err
	}
	targetCount, err := d.target.CountRows(t.Name)
	if err != nil {
		return err
	}
	if sourceCount == targetCount {
		return nil
	}

	delta := sourceCount - targetCount
	if delta < 0 {
		delta = -delta
	}

	// A keyed target with a small drift can still be merged; anything else
	// is a wholesale reload.
	pk, err := d.target.GetPrimaryKey(t.Name)
	if err != nil {
		return err
	}
	if pk != "" && delta*2 < sourceCount {
		rows, err := d.source.SelectAll(t.Name)
		if err != nil {
			return err
		}
		updated, err := d.target.UpsertRows(t.Name, rows, pk)
		if err != nil {
			return err
		}
		logrus.Infof("Updated %d rows in table: %s", updated, t.Name)
		result.RowsAffected += updated
		return d.reconcileDeletes(t.Name, pk, result)
	}

	if err := d.target.TruncateTable(t.Name); err != nil {
		return err
	}
	rows, err := d.source.SelectAll(t.Name)
	if err != nil {
		return err
	}
	inserted, err := d.target.InsertRows(t.Name, rows)
	if err != nil {
		return err
	}
	logrus.Infof("Inserted %d new rows in table: %s", inserted, t.Name)
	result.RowsAffected += inserted
	d.state[t.Name] = &TableSyncState{LastSyncTime: time.Now(), RowCount: inserted}
	return nil
}

// reconcileDeletes removes target keys absent from the source.
func (d *DataSyncer) reconcileDeletes(table, pk string, result *SyncResult) error {
	sourceKeys, err := d.fetchKeys(d.source, table, pk)
	if err != nil {
		return err
	}
	targetKeys, err := d.fetchKeys(d.target, table, pk)
	if err != nil {
		return err
	}

	var stale []interface{}
	for _, k := range targetKeys.order {
		if !sourceKeys.has(k) {
			stale = append(stale, targetKeys.values[k])
		}
	}
	if len(stale) == 0 {
		return nil
	}

	var deleted int64
	for start := 0; start < len(stale); start += deleteBatchSize {
		end := start + deleteBatchSize
		if end > len(stale) {
			end = len(stale)
		}
		n, err := d.target.DeleteRows(table, pk, stale[start:end])
		if err != nil {
			return err
		}
		deleted += n
	}
	logrus.Infof("Deleted %d rows from table: %s", deleted, table)
	result.RowsAffected += deleted
	return nil
}

// keySet preserves server encounter order alongside membership.
type keySet struct {
	order  []string
	values map[string]interface{}
}

func (k *keySet) has(key string) bool {
	_, ok := k.values[key]
	return ok
}

// fetchKeys reads the primary key column of a table into a keySet. Keys are
// normalized to strings so values compare across drivers.
func (d *DataSyncer) fetchKeys(a db.Adapter, table, pk string) (*keySet, error) {
	query := fmt.Sprintf("SELECT %s FROM %s",
		a.EscapeIdentifier(pk), a.EscapeIdentifier(table))
	rows, err := a.Query(query)
	if err != nil {
		return nil, err
	}

	set := &keySet{values: make(map[string]interface{}, len(rows))}
	for _, row := range rows {
		v := row[pk]
		key := fmt.Sprintf("%v", v)
		if _, seen := set.values[key]; !seen {
			set.order = append(set.order, key)
		}
		set.values[key] = v
	}
	return set, nil
}

// witnessColumn picks the change-witness column: the first column named
// like an update timestamp, or whose type mentions timestamp.
func witnessColumn(cols []db.ColumnDescriptor) string {
	for _, col := range cols {
		if witnessNames[strings.ToLower(col.Name)] {
			return col.Name
		}
		if strings.Contains(strings.ToLower(col.Type), "timestamp") {
			return col.Name
		}
	}
	return ""
}
