package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
)

// ScoreSubmission mirrors the server's ingestion message format
type ScoreSubmission struct {
	PlayerID    string            `json:"player_id"`
	PlayerKind  string            `json:"player_kind"`
	DisplayName string            `json:"display_name"`
	GameType    string            `json:"game_type"`
	SessionID   string            `json:"session_id"`
	Score       int64             `json:"score"`
	Metrics     SubmissionMetrics `json:"metrics"`
	DurationMs  int64             `json:"duration_ms"`
	Keystrokes  []int64           `json:"keystrokes,omitempty"`
	AchievedAt  time.Time         `json:"achieved_at"`
}

// SubmissionMetrics are the performance metrics attached to a score
type SubmissionMetrics struct {
	WPM      float64 `json:"wpm"`
	Accuracy float64 `json:"accuracy"`
}

var gameTypes = []string{"falling-blocks", "blink", "typing-walk", "falling-words"}

var playerPrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf", "Hawk", "Viper",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Alpha", "Delta", "Sigma",
	"Ace", "Bolt", "Crash", "Dash", "Edge", "Flash", "Glitch", "Haze", "Ion", "Jade",
	"Knight", "Luna", "Mystic", "Neon", "Orion", "Pulse", "Quantum", "Rebel", "Spark", "Turbo",
}

func getPlayerName(idx int) string {
	prefixIdx := idx % len(playerPrefixes)
	suffix := idx/len(playerPrefixes) + 1
	return fmt.Sprintf("%s%d", playerPrefixes[prefixIdx], suffix)
}

// makeSubmission fabricates a round result. cheat produces a claimed
// WPM past any plausible ceiling so the server's validator has
// something to reject.
func makeSubmission(playerIdx int, cheat bool) ScoreSubmission {
	playerID := getPlayerName(playerIdx)
	kind := "registered"
	if playerIdx%7 == 0 {
		playerID = "guest-" + playerID
		kind = "guest"
	}

	gameType := gameTypes[rand.Intn(len(gameTypes))]
	durationMs := int64(rand.Intn(50000) + 15000)

	wpm := 35 + rand.Float64()*85
	if cheat {
		wpm = 300 + rand.Float64()*200
	}
	accuracy := 85 + rand.Float64()*15

	// Keystroke offsets pacing the claimed throughput.
	chars := int(wpm * 5 * float64(durationMs) / 60000)
	keystrokes := make([]int64, 0, chars)
	if chars > 0 {
		step := durationMs / int64(chars)
		for i := 0; i < chars; i++ {
			keystrokes = append(keystrokes, int64(i)*step)
		}
	}

	score := int64(wpm * (accuracy / 100) * 10)

	return ScoreSubmission{
		PlayerID:    playerID,
		PlayerKind:  kind,
		DisplayName: getPlayerName(playerIdx),
		GameType:    gameType,
		SessionID:   fmt.Sprintf("load-%d-%d", playerIdx, time.Now().UnixNano()),
		Score:       score,
		Metrics:     SubmissionMetrics{WPM: wpm, Accuracy: accuracy},
		DurationMs:  durationMs,
		Keystrokes:  keystrokes,
		AchievedAt:  time.Now().UTC(),
	}
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "typing-scores", "Kafka topic")
	totalPlayers := flag.Int("players", 1000, "Total number of players to simulate")
	updatesPerSecond := flag.Int("rate", 100, "Submissions per second")
	cheatPercent := flag.Int("cheat", 2, "Percent of submissions with implausible WPM")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	brokerList := strings.Split(*brokers, ",")

	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("  🚀 Typing Arena Score Producer")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("  Brokers:          %s\n", *brokers)
	fmt.Printf("  Topic:            %s\n", *topic)
	fmt.Printf("  Total Players:    %d\n", *totalPlayers)
	fmt.Printf("  Submissions/sec:  %d\n", *updatesPerSecond)
	fmt.Printf("  Cheat percent:    %d%%\n", *cheatPercent)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(brokerList, config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}
	defer producer.Close()

	var successCount, errorCount int64
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&successCount, 1)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&errorCount, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	sendMessage := func(submission ScoreSubmission) {
		data, err := json.Marshal(submission)
		if err != nil {
			log.Printf("Failed to marshal message: %v", err)
			return
		}

		msg := &sarama.ProducerMessage{
			Topic: *topic,
			Key:   sarama.StringEncoder(submission.PlayerID),
			Value: sarama.ByteEncoder(data),
		}

		select {
		case producer.Input() <- msg:
		case <-done:
			return
		}
	}

	shutdown := func() {
		close(done)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("\n✓ Completed. Sent: %d, Errors: %d\n",
			atomic.LoadInt64(&successCount), atomic.LoadInt64(&errorCount))
	}

	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	interval := time.Second / time.Duration(*updatesPerSecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var endTime time.Time
	if *duration > 0 {
		endTime = time.Now().Add(*duration)
	}

	var updateCount int64

	for {
		select {
		case <-sigChan:
			fmt.Println("\n\nShutting down...")
			shutdown()
			return

		case <-ticker.C:
			if *duration > 0 && time.Now().After(endTime) {
				fmt.Println("\n\nDuration reached, shutting down...")
				shutdown()
				return
			}

			cheat := rand.Intn(100) < *cheatPercent
			sendMessage(makeSubmission(rand.Intn(*totalPlayers), cheat))
			atomic.AddInt64(&updateCount, 1)

		case <-statsTicker.C:
			fmt.Printf("[%s] Submissions: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&updateCount),
				atomic.LoadInt64(&successCount),
				atomic.LoadInt64(&errorCount),
			)
		}
	}
}
