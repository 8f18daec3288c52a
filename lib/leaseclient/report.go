// Copyright 2026 The Bursar Authors
// SPDX-License-Identifier: Apache-2.0

package leaseclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bursar-io/bursar/lib/schema/budget"
	"github.com/bursar-io/bursar/lib/service"
)

// deliverTimeout bounds one delivery attempt, separate from the
// retry pacing.
const deliverTimeout = 10 * time.Second

// reportWorker drains the queue until Close closes it. Delivery order
// does not matter (reports are commutative on the ledger); only the
// request ID deduplication does.
func (s *Session) reportWorker() {
	defer close(s.workerDone)
	for report := range s.queue {
		s.deliver(report)
	}
}

// deliver ships one report, retrying transport failures with doubling
// backoff. A report the service rejects is not retried: the service
// received it and said no, and it will say no again. A report the
// service never received goes to the spool after the final attempt.
func (s *Session) deliver(report budget.UsageReport) {
	delay := s.retryDelay
	for attempt := 1; ; attempt++ {
		ack, err := s.send(report)
		if err == nil {
			if ack.Duplicate {
				s.logger.Debug("report was a duplicate",
					"lease_id", report.LeaseID, "request_id", report.RequestID)
			}
			// The service is reachable again: drain anything that
			// spooled while it was not.
			s.replaySpool(context.Background())
			return
		}

		var serviceErr *service.ServiceError
		if errors.As(err, &serviceErr) {
			s.logger.Error("usage report rejected",
				"lease_id", report.LeaseID,
				"request_id", report.RequestID,
				"cost", report.Cost.StringExact(),
				"error", serviceErr.Message)
			s.setErr(fmt.Errorf("%w: rejected: %s", ErrReportDeliveryFailed, serviceErr.Message))
			return
		}

		if attempt >= s.attempts {
			break
		}
		s.logger.Warn("usage report delivery failed, retrying",
			"lease_id", report.LeaseID,
			"request_id", report.RequestID,
			"attempt", attempt,
			"error", err)
		s.clock.Sleep(delay)
		delay *= 2
	}

	if err := s.spool.write(report); err != nil {
		s.logger.Error("spooling report failed",
			"lease_id", report.LeaseID,
			"request_id", report.RequestID,
			"cost", report.Cost.StringExact(),
			"error", err)
		s.setErr(fmt.Errorf("%w: spool failed: %v", ErrReportDeliveryFailed, err))
		return
	}
	s.logger.Warn("usage report spooled after delivery failure",
		"lease_id", report.LeaseID, "request_id", report.RequestID)
	s.setErr(fmt.Errorf("%w: spooled %s", ErrReportDeliveryFailed, report.RequestID))
}

// send performs one delivery attempt.
func (s *Session) send(report budget.UsageReport) (*budget.UsageAck, error) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	var ack budget.UsageAck
	err := s.client.Call(ctx, budget.ActionReport, map[string]any{
		"lease_id":   report.LeaseID,
		"request_id": report.RequestID,
		"tokens":     report.Tokens,
		"cost":       report.Cost,
		"model":      report.Model,
		"provider":   report.Provider,
		"timestamp":  report.Timestamp,
	}, &ack)
	if err != nil {
		return nil, err
	}
	return &ack, nil
}

// replaySpool attempts to deliver every spooled report. Stops at the
// first transport failure (the service is still unreachable); removes
// reports that deliver or that the service rejects. Rejections during
// replay are typically reports for a lease settled in the meantime —
// logged with full figures so the spend is visible to an operator.
func (s *Session) replaySpool(ctx context.Context) {
	reports, err := s.spool.list()
	if err != nil {
		s.logger.Error("listing spool failed", "error", err)
		return
	}
	for _, entry := range reports {
		ack, err := s.send(entry.report)
		if err != nil {
			var serviceErr *service.ServiceError
			if errors.As(err, &serviceErr) {
				s.logger.Error("spooled report rejected, dropping",
					"lease_id", entry.report.LeaseID,
					"request_id", entry.report.RequestID,
					"cost", entry.report.Cost.StringExact(),
					"error", serviceErr.Message)
				s.spool.remove(entry.path)
				continue
			}
			// Still unreachable; leave the rest for next time.
			return
		}
		if ack.Duplicate {
			s.logger.Debug("spooled report was already recorded",
				"request_id", entry.report.RequestID)
		}
		s.spool.remove(entry.path)
	}
}
