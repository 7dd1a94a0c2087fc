package main

import (
	"context"
	"log"
	"time"

	"github.com/jpillora/backoff"
	"github.com/segmentio/kafka-go"
)

const (
	maxPushAttempts = 4
	pushTimeout     = 10 * time.Second
)

type messageSource interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type eventSink interface {
	PushEvent(ctx context.Context, raw []byte) error
}

// shipper commits an offset only once its event was pushed or given up on, so a crash replays
// at most the in-flight event.
type shipper struct {
	src     messageSource
	sink    eventSink
	retry   backoff.Backoff
	shipped int
	dropped int
}

func newShipper(src messageSource, sink eventSink) *shipper {
	return &shipper{
		src:   src,
		sink:  sink,
		retry: backoff.Backoff{Min: 200 * time.Millisecond, Max: 5 * time.Second, Factor: 2, Jitter: true},
	}
}

// run returns on ctx cancellation or a commit failure.
func (s *shipper) run(ctx context.Context) error {
	for {
		msg, err := s.src.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("worker: fetch: %v", err)
			continue
		}
		if err := s.push(ctx, msg.Value); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.dropped++
			log.Printf("worker: dropping %s/%d@%d: %v", msg.Topic, msg.Partition, msg.Offset, err)
		} else {
			s.shipped++
		}
		if err := s.src.CommitMessages(ctx, msg); err != nil {
			return err
		}
	}
}

func (s *shipper) push(ctx context.Context, value []byte) error {
	s.retry.Reset()
	for {
		pushCtx, cancel := context.WithTimeout(ctx, pushTimeout)
		err := s.sink.PushEvent(pushCtx, value)
		cancel()
		if err == nil || int(s.retry.Attempt())+1 >= maxPushAttempts {
			return err
		}
		wait := s.retry.Duration()
		log.Printf("worker: loki push failed, retry in %v: %v", wait, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
