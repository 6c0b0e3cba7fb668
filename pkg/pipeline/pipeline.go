package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("pkg", "pipeline")

// StageError reports which processor of a pipe rejected an item.
type StageError struct {
	Processor string
	Err       error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("processor %s: %v", e.Processor, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

type Pipe[T any] struct {
	processors []*ProcessorInfo[T]
}

func New[T any](processors ...*ProcessorInfo[T]) *Pipe[T] {
	return &Pipe[T]{
		processors: processors,
	}
}

func (p *Pipe[T]) AddProcessors(processors ...*ProcessorInfo[T]) {
	p.processors = append(p.processors, processors...)
}

func (p *Pipe[T]) Process(ctx context.Context, item T) (T, error) {
	var currentItem T = item
	for _, processor := range p.processors {
		select {
		case <-ctx.Done():
			return currentItem, ctx.Err()
		default:
			var err error
			currentItem, err = p.process(ctx, processor, currentItem)
			if err != nil {
				return currentItem, &StageError{Processor: processor.name, Err: err}
			}
		}
	}
	return currentItem, nil
}

// Open opens every processor in order. When one fails, the ones already opened are closed again.
func (p *Pipe[T]) Open(ctx context.Context) error {
	for i, processor := range p.processors {
		if err := processor.processor.Open(ctx, processor.logger); err != nil {
			for _, opened := range p.processors[:i] {
				_ = opened.close()
			}
			return &StageError{Processor: processor.name, Err: err}
		}
	}
	return nil
}

// Close closes all processors and returns every close error joined.
func (p *Pipe[T]) Close() error {
	var errs []error
	for _, processor := range p.processors {
		if err := processor.close(); err != nil {
			processor.logger.Errorf("error closing processor: %v", err)
			errs = append(errs, &StageError{Processor: processor.name, Err: err})
		}
	}
	return errors.Join(errs...)
}

func (p *Pipe[T]) process(ctx context.Context, tp *ProcessorInfo[T], item T) (T, error) {
	start := time.Now()
	c, cancel := context.WithTimeout(ctx, tp.timeout)
	defer cancel()
	defer func() {
		elapsed := time.Since(start)
		if elapsed > tp.slowThreshold {
			tp.logger.Warnf("processor took too long to execute: %vms", elapsed.Milliseconds())
		} else {
			tp.logger.Tracef("processor executed: %vµs", elapsed.Microseconds())
		}
	}()
	next, err := tp.process(c, item)
	if err == nil {
		return next, nil
	}
	switch tp.errorStrategy {
	case ContinueOnError:
		tp.logger.Warnf("continuing despite error in processor %s: %v", tp.name, err)
		return item, nil
	case RetryOnError:
		for range tp.maxRetries {
			tp.logger.Warnf("retrying processor %s due to error: %v", tp.name, err)
			select {
			case <-time.After(tp.retryInterval):
				rc, rcancel := context.WithTimeout(ctx, tp.timeout)
				retried, retryErr := tp.process(rc, item)
				rcancel()
				if retryErr == nil {
					tp.logger.Infof("processor %s succeeded on retry", tp.name)
					return retried, nil
				}
				err = retryErr
			case <-ctx.Done():
				return item, ctx.Err()
			}
		}
		tp.logger.Errorf("processor %s failed after %d retries", tp.name, tp.maxRetries)
		return item, err
	default:
		return item, err
	}
}
