package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Merchant is the tenant that owns a WhatsApp connection and a catalogue.
type Merchant struct {
	ID               uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Name             string    `gorm:"type:text;not null" json:"name"`
	Timezone         string    `gorm:"type:text;not null;default:'UTC'" json:"timezone"`
	AutoReplyEnabled bool      `gorm:"not null;default:true" json:"auto_reply_enabled"`
	CreatedAt        time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Merchant) TableName() string {
	return "merchants"
}

func (m *Merchant) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// BotSettings configures the auto-reply behaviour for one merchant. Read on
// every inbound message, mutated only from the settings dashboard.
type BotSettings struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	MerchantID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex" json:"merchant_id"`

	AutoReplyEnabled    bool           `gorm:"not null;default:true" json:"auto_reply_enabled"`
	WorkingHoursEnabled bool           `gorm:"not null;default:false" json:"working_hours_enabled"`
	WorkingHoursStart   string         `gorm:"type:text;default:'09:00'" json:"working_hours_start"`
	WorkingHoursEnd     string         `gorm:"type:text;default:'18:00'" json:"working_hours_end"`
	WorkingDays         datatypes.JSON `gorm:"type:jsonb" json:"working_days"` // weekday ordinals 0-6

	WelcomeMessage    string `gorm:"type:text" json:"welcome_message"`
	OutOfHoursMessage string `gorm:"type:text" json:"out_of_hours_message"`
	Tone              string `gorm:"type:text;default:'friendly'" json:"tone"`
	Language          string `gorm:"type:text;default:'ar'" json:"language"`

	ResponseDelaySeconds int `gorm:"not null;default:0" json:"response_delay_seconds"`
	MaxResponseLength    int `gorm:"not null;default:300" json:"max_response_length"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`

	Merchant Merchant `gorm:"foreignKey:MerchantID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (BotSettings) TableName() string {
	return "bot_settings"
}

func (s *BotSettings) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// WorkingDaySet decodes the stored weekday ordinals. An unset column means
// every day is a working day.
func (s *BotSettings) WorkingDaySet() map[time.Weekday]bool {
	days := map[time.Weekday]bool{}
	if len(s.WorkingDays) == 0 {
		for d := time.Sunday; d <= time.Saturday; d++ {
			days[d] = true
		}
		return days
	}
	var ordinals []int
	if err := json.Unmarshal(s.WorkingDays, &ordinals); err != nil {
		return days
	}
	for _, o := range ordinals {
		if o >= 0 && o <= 6 {
			days[time.Weekday(o)] = true
		}
	}
	return days
}

// SetWorkingDays encodes weekday ordinals into the JSON column.
func (s *BotSettings) SetWorkingDays(ordinals []int) error {
	raw, err := json.Marshal(ordinals)
	if err != nil {
		return err
	}
	s.WorkingDays = raw
	return nil
}
