package domain

import (
	"errors"
	"fmt"
)

var (
	//ErrVideoNotFound video row missing
	ErrVideoNotFound = errors.New("video not found")
	//ErrInvalidTransition status change not in the transition table
	ErrInvalidTransition = errors.New("invalid status transition")
	//ErrNotEligibleForRetry retry requested for UPLOADING or READY
	ErrNotEligibleForRetry = errors.New("video not eligible for retry")
	//ErrMissingScreen screen track is mandatory
	ErrMissingScreen = errors.New("screen track missing")
	//ErrMissingAudio mic was uploaded but the output has no audio stream
	ErrMissingAudio = errors.New("mic audio missing from output")
	//ErrNoVideoStream output has no video stream
	ErrNoVideoStream = errors.New("no video stream in output")
	//ErrToolTimeout external tool exceeded its timeout
	ErrToolTimeout = errors.New("tool timeout")
	//ErrEmptyInput downloaded or produced file is zero bytes
	ErrEmptyInput = errors.New("empty input")
)

// Stage pipeline stage name
type Stage string

const (
	//StageCompose compose
	StageCompose Stage = "compose"
	//StageThumbnail thumbnail
	StageThumbnail Stage = "thumbnail"
	//StageTranscribe transcription
	StageTranscribe Stage = "transcribe"
	//StageFinalize mark ready
	StageFinalize Stage = "finalize"
)

// ErrorKind 錯誤分類
type ErrorKind string

const (
	//KindTransient storage / network, retry likely helps
	KindTransient ErrorKind = "transient"
	//KindFatal data correctness, timeouts, corrupt inputs
	KindFatal ErrorKind = "fatal"
	//KindBestEffort logged and swallowed
	KindBestEffort ErrorKind = "best_effort"
)

// StageError 帶有 stage 與分類的錯誤
type StageError struct {
	Stage   Stage
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError helper
func NewStageError(stage Stage, kind ErrorKind, message string, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Message: message, Err: err}
}

// KindOf 非 StageError 一律視為 transient
func KindOf(err error) ErrorKind {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}
