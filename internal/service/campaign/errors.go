package campaign

import "errors"

// Sentinel errors for the campaign service layer.
var (
	ErrNotFound       = errors.New("campaign not found")
	ErrAlreadySending = errors.New("campaign is already sending or sent")
	ErrStatusConflict = errors.New("campaign status changed concurrently")
	ErrNotEditable    = errors.New("only draft or scheduled campaigns can be edited")
	ErrTemplateFailed = errors.New("campaign template could not be loaded or compiled")
	ErrInvalidInput   = errors.New("invalid campaign")
)
