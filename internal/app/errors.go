package service

import "errors"

var (
	ErrNotStarted        = errors.New("service not started")
	ErrNotSignedIn       = errors.New("no signed-in account")
	ErrUploadsDisabled   = errors.New("drive uploads are disabled")
	ErrUploadBusy        = errors.New("upload queue is full")
	ErrDetectionDisabled = errors.New("detection is disabled")
	ErrAuthDisabled      = errors.New("api tokens are disabled")
)
