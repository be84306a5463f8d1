// Package commitlog journals portfolio commits whose persistence has not been confirmed yet.
package commitlog

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/aitrader/internal/domain"
	"github.com/vadiminshakov/gowal"
)

const (
	segmentLimit = 1000
	maxSegments  = 100

	keyPrefix = "commit_"

	StatusPending  = "pending"
	StatusResolved = "resolved"
)

// Entry a commit as journaled before the store confirmed it.
type Entry struct {
	TradeID string           `json:"trade_id"`
	Status  string           `json:"status"`
	Trade   domain.Trade     `json:"trade"`
	Next    domain.Portfolio `json:"next"`
	Time    time.Time        `json:"time"`
}

// Journal gowal-backed pending/resolved log. Only unresolved entries are kept in memory.
type Journal struct {
	mu      sync.Mutex
	wal     *gowal.Wal
	pending map[string]Entry
	order   []string
}

// Open opens the journal under dir and replays it.
func Open(dir string) (*Journal, error) {
	if dir == "" {
		return nil, errors.New("commit journal dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create commit journal dir")
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "commit_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init commit journal WAL")
	}

	j := &Journal{wal: wal, pending: make(map[string]Entry)}
	for msg := range wal.Iterator() {
		var e Entry
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			wal.Close()
			return nil, errors.Wrapf(err, "decode journal entry %s", msg.Key)
		}
		switch e.Status {
		case StatusPending:
			j.track(e)
		case StatusResolved:
			j.forget(e.TradeID)
		}
	}
	return j, nil
}

// Prepare durably records that trade is committing and next is the resulting portfolio.
func (j *Journal) Prepare(trade domain.Trade, next domain.Portfolio) error {
	e := Entry{
		TradeID: trade.ID,
		Status:  StatusPending,
		Trade:   trade,
		Next:    next.Clone(),
		Time:    time.Now().UTC(),
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.write(e); err != nil {
		return err
	}
	j.track(e)
	return nil
}

// Resolve marks the trade's commit as durably persisted.
func (j *Journal) Resolve(tradeID string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.pending[tradeID]; !ok {
		return nil
	}
	if err := j.write(Entry{TradeID: tradeID, Status: StatusResolved, Time: time.Now().UTC()}); err != nil {
		return err
	}
	j.forget(tradeID)
	return nil
}

// Pending unresolved entries, oldest first.
func (j *Journal) Pending() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, 0, len(j.order))
	for _, id := range j.order {
		out = append(out, j.pending[id])
	}
	return out
}

// Close closes the underlying WAL.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.wal.Close()
}

func (j *Journal) write(e Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal journal entry")
	}
	return errors.Wrapf(j.wal.Write(j.wal.CurrentIndex()+1, keyPrefix+e.TradeID, payload),
		"write journal entry %s", e.TradeID)
}

func (j *Journal) track(e Entry) {
	if _, ok := j.pending[e.TradeID]; !ok {
		j.order = append(j.order, e.TradeID)
	}
	j.pending[e.TradeID] = e
}

func (j *Journal) forget(id string) {
	if _, ok := j.pending[id]; !ok {
		return
	}
	delete(j.pending, id)
	for i, v := range j.order {
		if v == id {
			j.order = append(j.order[:i], j.order[i+1:]...)
			break
		}
	}
}
