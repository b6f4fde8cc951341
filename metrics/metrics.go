// Copyright 2021 The Erigon Authors
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package metrics exposes the engine's Prometheus metrics, registered with
// the default registry at package init through promauto, covering
// transactions, DBI rebinds, cursor opens and schema operations, on
// client_golang rather than VictoriaMetrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TxnCommits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tablestore_txn_commits_total",
		Help: "Committed transactions by kind (read, write, schema).",
	}, []string{"kind"})

	TxnCancellations = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablestore_txn_cancellations_total",
		Help: "Writer transactions auto-cancelled after a probe-and-* failure.",
	})

	CommitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tablestore_commit_duration_seconds",
		Help:    "Wall time spent in commit, including the underlying K/V fsync.",
		Buckets: prometheus.DefBuckets,
	})

	DBIRebinds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablestore_dbi_rebinds_total",
		Help: "DBIs opened for a table name under a different schema fingerprint than its previous open.",
	})

	CursorsOpened = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablestore_cursors_opened_total",
		Help: "Cursors opened across all tables and indexes.",
	})

	SchemaChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tablestore_schema_changes_total",
		Help: "Schema operations (create/drop/clear table), counted when the operation runs inside its schema transaction.",
	})
)
