// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ImportFiles counts imported game files by result (ok, failed).
	ImportFiles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openingtree_import_files_total",
		Help: "Game files processed by the importer, by result",
	}, []string{"result"})

	// ImportLines counts replayed move lines by result (ok, illegal).
	ImportLines = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openingtree_import_lines_total",
		Help: "Move lines replayed by the importer, by result",
	}, []string{"result"})

	// ImportDuration tracks the time to parse and merge one file.
	ImportDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "openingtree_import_file_duration_seconds",
		Help:    "Time to parse, replay and merge one game file",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	// AnalysedPositions counts engine evaluations by outcome (updated, unchanged, failed).
	AnalysedPositions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openingtree_analysed_positions_total",
		Help: "Positions scored by the engine, by outcome",
	}, []string{"outcome"})

	// TreeNodes reports the node count of each loaded tree.
	TreeNodes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "openingtree_tree_nodes",
		Help: "Number of positions in each loaded tree",
	}, []string{"tree"})

	// QuizMoves counts quiz answers by verdict.
	QuizMoves = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "openingtree_quiz_moves_total",
		Help: "Moves answered in quiz sessions, by verdict",
	}, []string{"verdict"})

	// QuizSessionsEvicted counts quiz sessions dropped to stay under the limit.
	QuizSessionsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "openingtree_quiz_sessions_evicted_total",
		Help: "Quiz sessions dropped from memory to stay under max_sessions",
	})
)
