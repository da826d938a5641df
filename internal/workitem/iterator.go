package workitem

import (
	"context"
	"errors"
	"fmt"

	"github.com/mattjoyce/workitems/internal/log"
)

// Action processes one input item. The Library's current item is the input
// when the action starts.
type Action func(ctx context.Context, item *Item) (any, error)

// IterateOptions configure ForEachInputWorkItem.
type IterateOptions struct {
	// Limit caps the number of processed items; zero means no cap.
	Limit int
	// ReturnResults collects the result of every action call.
	ReturnResults bool
	// ContinueOnError keeps iterating after an action fails. The failed item
	// is still released as FAILED.
	ContinueOnError bool
}

// ForEachInputWorkItem runs action over the input queue in order. An item the
// action leaves unreleased is released DONE on success and FAILED on error.
func (l *Library) ForEachInputWorkItem(ctx context.Context, action Action, opts IterateOptions) ([]any, error) {
	if action == nil {
		return nil, fmt.Errorf("action is nil")
	}

	var results []any
	var errs []error
	count := 0

	item := l.Input()
	if item == nil || item.Released() {
		next, err := l.nextForIteration(ctx)
		if err != nil || next == nil {
			return results, err
		}
		item = next
	}

	for {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		l.current = item

		result, actionErr := action(ctx, item)
		if actionErr != nil {
			l.logger.Warn("work item action failed", log.Item(item.ID()), "error", actionErr)
			if !item.Released() {
				if err := l.release(ctx, item, StateFailed, ExceptionFromError(actionErr)); err != nil {
					return results, errors.Join(actionErr, err)
				}
			}
			if !opts.ContinueOnError {
				return results, actionErr
			}
			errs = append(errs, actionErr)
		} else if !item.Released() {
			if err := l.release(ctx, item, StateDone, nil); err != nil {
				return results, err
			}
		}
		if opts.ReturnResults {
			results = append(results, result)
		}

		count++
		if opts.Limit > 0 && count >= opts.Limit {
			break
		}
		next, err := l.nextForIteration(ctx)
		if err != nil {
			return results, err
		}
		if next == nil {
			break
		}
		item = next
	}

	l.logger.Info("input work items processed", "count", count, "failed", len(errs))
	if len(errs) > 0 {
		return results, errors.Join(errs...)
	}
	return results, nil
}

// nextForIteration returns nil, nil when the queue is drained.
func (l *Library) nextForIteration(ctx context.Context) (*Item, error) {
	item, err := l.GetInputWorkItem(ctx)
	if errors.Is(err, ErrEmptyQueue) {
		return nil, nil
	}
	return item, err
}
