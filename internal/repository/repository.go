package repository

import (
	"fmt"

	"streamkit/backend/internal/models"

	"gorm.io/gorm"
)

// Repositories groups every store accessor
type Repositories struct {
	Streams      StreamRepository
	Rules        RuleRepository
	Chat         ChatRepository
	Polls        PollRepository
	Quizzes      QuizRepository
	Interactions InteractionRepository
	Challenges   ChallengeRepository
}

// NewRepositories builds all repositories over db
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Streams:      NewStreamRepository(db),
		Rules:        NewRuleRepository(db),
		Chat:         NewChatRepository(db),
		Polls:        NewPollRepository(db),
		Quizzes:      NewQuizRepository(db),
		Interactions: NewInteractionRepository(db),
		Challenges:   NewChallengeRepository(db),
	}
}

// Migrate creates tables and the indexes gorm tags cannot express
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.StreamSession{},
		&models.StreamModerator{},
		&models.StreamFollower{},
		&models.StreamSubscriber{},
		&models.ChatSettings{},
		&models.ChatFilter{},
		&models.ChatMessage{},
		&models.BannedUser{},
		&models.ChatTimeout{},
		&models.ChatCooldown{},
		&models.Emote{},
		&models.Poll{},
		&models.PollOption{},
		&models.PollResponse{},
		&models.Quiz{},
		&models.QuizQuestion{},
		&models.QuizResponse{},
		&models.StreamInteraction{},
		&models.Challenge{},
		&models.ChallengeParticipant{},
	)
	if err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	// one active poll per stream
	if err := db.Exec("CREATE UNIQUE INDEX IF NOT EXISTS idx_polls_one_active ON polls (stream_id) WHERE is_active").Error; err != nil {
		return fmt.Errorf("create active poll index: %w", err)
	}

	return nil
}
