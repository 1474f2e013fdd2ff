package registry

import "errors"

var (
	// ErrTerminalStage indicates an update against a completed or failed request.
	ErrTerminalStage = errors.New("request is in a terminal stage")
	// ErrStageOrder indicates a transition that skips or rewinds pipeline stages.
	ErrStageOrder = errors.New("invalid stage transition")
	// ErrProgressRegression indicates an update that would move progress backwards.
	ErrProgressRegression = errors.New("progress may not decrease")
	// ErrResultRef indicates a result reference on a non-completed request, a
	// completed request without one, or an error message outside the failed stage.
	ErrResultRef = errors.New("result reference and error message must match stage")
)
