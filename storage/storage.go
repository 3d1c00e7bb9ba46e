package storage

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/evkuzin/weatherlogger/config"
	"github.com/evkuzin/weatherlogger/weather_station"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Environment is the archived row of one reading.
type Environment struct {
	ID          uint      `gorm:"primaryKey"`
	Time        time.Time `gorm:"index"`
	Temperature float64
	Humidity    float64
}

func (Environment) TableName() string {
	return "readings"
}

type Storage struct {
	db *gorm.DB
}

// NewStorage connects to PostgreSQL and migrates the readings table.
func NewStorage(conf *config.Database) (*Storage, error) {
	newLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags), // io writer
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	port := conf.Port
	if port == "" {
		port = "5432"
	}
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable",
		conf.Host,
		conf.User,
		conf.Password,
		conf.Database,
		port)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: newLogger})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Environment{}); err != nil {
		return nil, err
	}
	return &Storage{db: db}, nil
}

func newEnvironment(r weather_station.Reading) *Environment {
	return &Environment{
		Time:        time.Unix(r.Timestamp, 0).UTC(),
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
	}
}

func (s *Storage) Put(r weather_station.Reading) error {
	return s.db.Create(newEnvironment(r)).Error
}

// GetEvents returns the readings of the last t, oldest first.
func (s *Storage) GetEvents(t time.Duration) ([]weather_station.Reading, error) {
	var rows []Environment
	err := s.db.Where("time > ?", time.Now().Add(-t)).Order("time").Find(&rows).Error
	if err != nil {
		return nil, err
	}
	events := make([]weather_station.Reading, len(rows))
	for i, row := range rows {
		events[i] = weather_station.Reading{
			Timestamp:   row.Time.Unix(),
			Temperature: row.Temperature,
			Humidity:    row.Humidity,
		}
	}
	return events, nil
}

func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
