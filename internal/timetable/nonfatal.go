package timetable

import (
	"context"
	"fmt"
	"log"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/jw6ventures/timetable/internal/metrics"
)

// operation names a best-effort step for logs and metrics.
type operation struct {
	name  string
	debug bool
}

var (
	opFetchHomework   = operation{name: "fetch_homework"}
	opFetchExams      = operation{name: "fetch_exams"}
	opPersistHomework = operation{name: "persist_homework"}
	opPersistExams    = operation{name: "persist_exams"}
	opMerge           = operation{name: "merge_enrichment"}
	opStoreSnapshot   = operation{name: "store_snapshot"}
	opLogout          = operation{name: "logout"}
	opPrefetch        = operation{name: "prefetch", debug: true}
	opPrune           = operation{name: "prune"}
)

// nonFatal runs fn and swallows its error or panic after logging and
// counting it. It reports whether fn succeeded.
func nonFatal(ctx context.Context, op operation, fn func(context.Context) error) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			report(ctx, op, fmt.Errorf("panic: %v", r))
			ok = false
		}
	}()
	if err := fn(ctx); err != nil {
		report(ctx, op, err)
		return false
	}
	return true
}

func report(ctx context.Context, op operation, err error) {
	metrics.NonFatalFailures.WithLabelValues(op.name).Inc()
	level := "[WARN]"
	if op.debug {
		level = "[DEBUG]"
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		log.Printf("%s %s failed (req_id=%s): %v", level, op.name, reqID, err)
		return
	}
	log.Printf("%s %s failed: %v", level, op.name, err)
}
