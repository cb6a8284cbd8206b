package domain

import "time"

// BatchItem — одна операция на одном устройстве внутри многоустройственного изменения.
type BatchItem struct {
	DeviceTarget string         `json:"device_target"`
	ToolName     string         `json:"tool_name"`
	Parameters   map[string]any `json:"parameters,omitempty"`
	Platform     string         `json:"platform,omitempty"`
	DependsOn    []string       `json:"depends_on,omitempty"`
	Priority     int            `json:"priority"`
}

type ValidationResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// ExecutionResult: ответ Device Executor.
type ExecutionResult struct {
	Success           bool               `json:"success"`
	Output            string             `json:"output,omitempty"`
	Error             string             `json:"error,omitempty"`
	RollbackData      map[string]any     `json:"rollback_data,omitempty"`
	ValidationResults []ValidationResult `json:"validation_results,omitempty"`
}

type DeviceResult struct {
	Device            string             `json:"device"`
	Success           bool               `json:"success"`
	Executed          bool               `json:"executed"`
	Skipped           bool               `json:"skipped"`
	RolledBack        bool               `json:"rolled_back"`
	Output            string             `json:"output,omitempty"`
	Error             string             `json:"error,omitempty"`
	ValidationResults []ValidationResult `json:"validation_results,omitempty"`
	RollbackData      map[string]any     `json:"-"`
	Duration          time.Duration      `json:"duration"`
}

// BatchResult создается заново на каждый вызов и ядром не сохраняется.
type BatchResult struct {
	BatchID    string                   `json:"batch_id"`
	Stages     [][]string               `json:"stages"`
	Results    map[string]*DeviceResult `json:"results"`
	Total      int                      `json:"total"`
	Succeeded  int                      `json:"succeeded"`
	Failed     int                      `json:"failed"`
	RolledBack int                      `json:"rolled_back"`
	Elapsed    time.Duration            `json:"elapsed"`
}
