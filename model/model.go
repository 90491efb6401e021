package model

import "time"

type Project struct {
	ID        string `json:"id"`
	AccountID string `json:"accountId"`
	Name      string `json:"name"`
}

type Form struct {
	ID          string `json:"id,omitempty"`
	ProjectID   string `json:"projectId,omitempty"`
	Name        string `json:"name"`
	Description string `json:"description"`
	IsActive    bool   `json:"isActive"`
	// ResponseLimit caps accepted responses per plan; 0 means unlimited.
	ResponseLimit int        `json:"responseLimit,omitempty"`
	Questions     []Question `json:"questions"`
}

type Question struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
	Options  any    `json:"options,omitempty"`
}

type Response struct {
	ID            string         `json:"id"`
	FormID        string         `json:"formId"`
	QRCodeID      string         `json:"qrCodeId,omitempty"`
	IPHash        string         `json:"-"`
	LocationName  string         `json:"locationName,omitempty"`
	UserAgentHash string         `json:"-"`
	SubmittedAt   time.Time      `json:"submittedAt"`
	Items         []ResponseItem `json:"items,omitempty"`
}

type ResponseItem struct {
	ResponseID string `json:"-"`
	QuestionID string `json:"questionId"`
	// Value holds scalar answers as-is and list answers as a JSON array.
	Value string `json:"value"`
}
