package vref

import (
	stm "github.com/tiancaiamao/stm"
)

// VTx is one software-transactional attempt: a thin wrapper around the
// host stm.Txn that also accumulates, per pvCell touched, the single
// value that cell should end up holding if this attempt is the one that
// commits (re-writes to the same PV within one VTx coalesce, last write
// wins).
type VTx struct {
	txn *stm.Txn
	log map[*pvCell]any
}

// ReadPVar returns pv's current value as seen by this transaction: the
// value staged by an earlier WritePVar in the same attempt if there is
// one, otherwise pv's committed STM value.
func ReadPVar[T any](tx *VTx, pv *PV[T]) (T, error) {
	if staged, ok := tx.log[pv.cell]; ok {
		return staged.(T), nil
	}
	v, err := pv.cell.varr.Load(tx.txn)
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// WritePVar stages v as pv's new value for this attempt. The write is not
// applied to the underlying stm.Var until the whole transaction function
// returns without error, so a transaction that fails partway leaves no
// trace even though the host STM has no explicit abort call of its own.
func WritePVar[T any](tx *VTx, pv *PV[T], v T) {
	tx.log[pv.cell] = v
}

// pvWrite is one committed (cell, value) pair handed to the writer.
type pvWrite struct {
	cell  *pvCell
	value any
}

// newSTMVar returns a Var seeded with initial. stm.Var's fields are
// unexported and the package exports no constructor beyond the zero
// value, so seeding has to go through a throwaway transaction rather
// than a literal.
func newSTMVar(initial any) *stm.Var {
	v := &stm.Var{}
	stm.Atomically(func(txn *stm.Txn) {
		v.Store(txn, initial)
	})
	return v
}

// Atomically runs fn as a software transaction against space's PVs (and
// any arbitrary host STM resources fn chooses to touch alongside them).
// On success the touched PVs' in-memory values are updated immediately
// (visible to any later Atomically in this process) and the coalesced
// write log is handed off to the writer; if durable is true,
// Atomically blocks until that log has been fsynced.
func Atomically(space *Space, durable bool, fn func(*VTx) error) error {
	var lastLog map[*pvCell]any
	var userErr error
	stm.Atomically(func(txn *stm.Txn) {
		tx := &VTx{txn: txn, log: map[*pvCell]any{}}
		userErr = fn(tx)
		lastLog = tx.log
		if userErr != nil {
			return
		}
		for cell, v := range tx.log {
			cell.varr.Store(txn, v)
		}
	})
	if userErr != nil {
		return userErr
	}
	if len(lastLog) == 0 {
		return nil
	}
	writes := make([]pvWrite, 0, len(lastLog))
	for cell, v := range lastLog {
		writes = append(writes, pvWrite{cell: cell, value: v})
	}
	var done chan error
	if durable {
		done = make(chan error, 1)
	}
	space.writeCh <- &cmdTxCommit{writes: writes, durable: durable, done: done}
	if durable {
		return <-done
	}
	return nil
}
