package models

import (
	"encoding/json"
	"time"
)

// DeviceSummary is one entry of a device_list event
type DeviceSummary struct {
	DeviceID       string    `json:"deviceId"`
	IsOnline       bool      `json:"isOnline"`
	LastSeen       time.Time `json:"lastSeen"`
	TelemetryCount int64     `json:"telemetryCount"`
	ControlState   bool      `json:"controlState"`
	RegisteredAt   time.Time `json:"registeredAt"`
}

// DeviceUpdate is the payload for MessageTypeDeviceUpdate
type DeviceUpdate struct {
	DeviceID     string    `json:"deviceId"`
	ControlState bool      `json:"controlState"`
	IsOnline     bool      `json:"isOnline"`
	LastSeen     time.Time `json:"lastSeen"`
}

// RegistrationAck is the payload for MessageTypeRegistrationSuccess
type RegistrationAck struct {
	DeviceID string `json:"deviceId"`
}

// ControlRequest is the payload for MessageTypeControlDevice.
// Command is kept raw so it can be forwarded to the device untouched.
type ControlRequest struct {
	DeviceID string          `json:"deviceId"`
	Command  json.RawMessage `json:"command"`
}

// ControlCommand is the part of a command the hub interprets
type ControlCommand struct {
	Cmd string `json:"cmd"`
}

// Known control verbs
const (
	CommandOn     = "on"
	CommandOff    = "off"
	CommandToggle = "toggle"
)

// ParseControlCommand extracts the cmd verb from a raw command.
// Anything that is not an object with a string cmd yields an empty verb.
func ParseControlCommand(raw json.RawMessage) ControlCommand {
	var cmd ControlCommand
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return ControlCommand{}
	}
	return cmd
}

// HistoryRequest is the payload for MessageTypeGetTelemetryHistory
type HistoryRequest struct {
	DeviceID string `json:"deviceId"`
	Limit    int    `json:"limit,omitempty"`
}

// HistoryReply is the payload for MessageTypeTelemetryHistory
type HistoryReply struct {
	DeviceID string           `json:"deviceId"`
	History  []TelemetryPoint `json:"history"`
}

// DeviceStats is the payload for MessageTypeDeviceStats
type DeviceStats struct {
	DeviceCount          int `json:"deviceCount"`
	OnlineCount          int `json:"onlineCount"`
	ClientCount          int `json:"clientCount"`
	TotalTelemetryPoints int `json:"totalTelemetryPoints"`
}
