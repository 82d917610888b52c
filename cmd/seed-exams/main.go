package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/stemsi/examprep/internal/config"
	"github.com/stemsi/examprep/internal/database"
	"github.com/stemsi/examprep/internal/logger"
	"github.com/stemsi/examprep/internal/model"
	"github.com/stemsi/examprep/internal/repository"
	"github.com/stemsi/examprep/internal/service"
)

type seedExam struct {
	title    string
	topic    string
	offset   time.Duration // window start relative to now
	window   time.Duration
	minutes  int
	settings model.ExamSettings
}

var seedExams = []seedExam{
	{"Physics Mock Test", "Kinematics", -30 * time.Minute, 3 * time.Hour, 30,
		model.ExamSettings{PassMarks: 3, InstantResult: true}},
	{"Chemistry Practice", "Stoichiometry", 2 * time.Hour, 2 * time.Hour, 45,
		model.ExamSettings{NegativeMarking: true, NegativeMarks: 0.25, PassMarks: 4, ShuffleQuestions: true}},
	{"Biology Review", "Cell Biology", -26 * time.Hour, time.Hour, 20,
		model.ExamSettings{PassMarks: 2, InstantResult: true}},
}

func main() {
	var questions, users int
	flag.IntVar(&questions, "questions", 5, "Questions per exam")
	flag.IntVar(&users, "users", 3, "Student tokens to print")
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	examRepo := repository.NewExamRepository(pool)
	questionRepo := repository.NewQuestionRepository(pool)
	authService := service.NewAuthService(cfg)

	fmt.Printf("=== Seeding %d Exams ===\n", len(seedExams))

	now := time.Now().In(cfg.ExamTimezone)
	for _, s := range seedExams {
		start := now.Add(s.offset).Truncate(time.Minute)
		end := start.Add(s.window)
		if end.YearDay() != start.YearDay() {
			// Windows may not cross midnight.
			end = time.Date(start.Year(), start.Month(), start.Day(), 23, 59, 0, 0, start.Location())
		}

		exam := &model.Exam{
			Title:           s.title,
			Topic:           s.topic,
			ExamDate:        start.Format(time.DateOnly),
			StartTime:       start.Format("15:04"),
			EndTime:         end.Format("15:04"),
			DurationMinutes: s.minutes,
			TotalMarks:      float64(questions),
			Settings:        s.settings,
		}
		if err := examRepo.Create(ctx, exam); err != nil {
			log.Fatal().Err(err).Str("title", s.title).Msg("Failed to create exam")
		}

		batch := make([]*model.Question, 0, questions)
		for i := 0; i < questions; i++ {
			batch = append(batch, &model.Question{
				ExamID:        exam.ID,
				Prompt:        fmt.Sprintf("%s question %d: which option is correct?", s.topic, i+1),
				Options:       []string{"Option A", "Option B", "Option C", "Option D"},
				CorrectOption: i % model.OptionCount,
				Marks:         1,
				OrderNum:      i + 1,
			})
		}
		if err := questionRepo.CreateBatch(ctx, batch); err != nil {
			log.Fatal().Err(err).Str("exam_id", exam.ID.String()).Msg("Failed to create questions")
		}
		fmt.Printf("Created %-20s %s %s-%s (%s)\n", s.title, exam.ExamDate, exam.StartTime, exam.EndTime, exam.ID)
	}

	fmt.Println("\n=== Student Tokens ===")
	for id := 1; id <= users; id++ {
		tok, err := authService.GenerateStudentToken(id)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to sign token")
		}
		fmt.Printf("user %d: %s\n", id, tok)
	}
}
