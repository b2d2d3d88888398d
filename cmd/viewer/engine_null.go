//go:build !gst

package main

import (
	"github.com/technosupport/ts-camviewer/internal/log"
	"github.com/technosupport/ts-camviewer/internal/media"
)

func newEngine() media.Engine {
	logger := log.WithComponent("main")
	logger.Warn().Msg("built without gstreamer, live view is unavailable")
	return media.NullEngine{}
}
