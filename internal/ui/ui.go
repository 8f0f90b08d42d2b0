// Package ui names the chrome around the map: menu buttons and the
// commands the view controller sends to the page surface.
package ui

import "fmt"

// Button is a menu button.
type Button string

// Menu buttons.
const (
	Home      Button = "home"
	Maps      Button = "maps"
	Bookmarks Button = "bookmarks"
	Help      Button = "help"
)

// ParseButton validates a button name.
func ParseButton(s string) (Button, error) {
	switch b := Button(s); b {
	case Home, Maps, Bookmarks, Help:
		return b, nil
	}
	return "", fmt.Errorf("unknown menu button %q", s)
}

// Command kinds.
const (
	OpenMaps      = "openMaps"
	OpenBookmarks = "openBookmarks"
	OpenHelp      = "openHelp"
	ShowLegend    = "showLegend"
	ShowTitle     = "showTitle"
)

// Command is an instruction for the page chrome.
type Command struct {
	Kind string `json:"kind"`
	Data any    `json:"data,omitempty"`
}

// Surface receives UI commands.
type Surface interface {
	Dispatch(cmd Command)
}
