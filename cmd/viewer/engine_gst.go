//go:build gst

package main

import (
	"github.com/technosupport/ts-camviewer/internal/media"
	"github.com/technosupport/ts-camviewer/internal/media/gst"
)

func newEngine() media.Engine {
	return gst.NewEngine()
}
