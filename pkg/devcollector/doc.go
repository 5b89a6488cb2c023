// Package devcollector is a local stand-in for the engagement collector. It
// serves every collector endpoint, records what it receives, and can be
// scripted to fail so delivery and retry paths can be exercised end to end.
package devcollector
