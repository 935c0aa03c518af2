// Command biometric-voice is the voice front-end process (C9-C12): it
// captures microphone audio, transcribes it, classifies yes/no intent, and
// drives the four voice orchestrator flows against a biometric-authd tool
// server launched as an MCP stdio subprocess.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/biosentry/biosentry/internal/audiodevice"
	"github.com/biosentry/biosentry/internal/config"
	"github.com/biosentry/biosentry/internal/intent"
	"github.com/biosentry/biosentry/internal/observe"
	"github.com/biosentry/biosentry/internal/speech"
	"github.com/biosentry/biosentry/internal/toolclient"
	"github.com/biosentry/biosentry/internal/voiceflow"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flowName := flag.String("flow", "loop", "voice flow to run: loop (default, Recognize with Register fallback), register, update, or delete")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "biometric-voice: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "biometric-voice: %v\n", err)
		}
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("biometric-voice starting", "config", *configPath, "log_level", cfg.Server.LogLevel)

	shutdownTelemetry, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "biometric-voice",
		ServiceVersion: "1.0.0",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry providers", "err", err)
		return 1
	}

	transcriber, err := speech.NewTranscriptionEngine(cfg.Speech.WhisperModelPath, "en")
	if err != nil {
		slog.Error("failed to load transcription model", "err", err)
		return 1
	}
	defer transcriber.Close()

	synth, err := speech.NewHTTPSynthesizer(cfg.Speech.TTSServerURL, cfg.Speech.TTSSpeakerID, cfg.Speech.TTSLanguage)
	if err != nil {
		slog.Warn("text-to-speech synthesizer unavailable; speak calls will fail", "err", err)
	}

	micArbiter := audiodevice.New(audiodevice.Options{TransitionDelay: cfg.Speech.TransitionDelay})
	mic := newLocalMicrophone()
	audioIn := speech.NewAudioInputDevice(mic, micArbiter)
	tts := speech.NewTextToSpeechEngine(synth, newLocalSpeaker(), micArbiter)
	wake := speech.NewWakeWordDetector(cfg.Speech.WakeWords)
	silence := speech.NewSilenceDetector(cfg.Speech.SilenceEnergyThreshold)

	var completer intent.Completer
	if cfg.Provider.LLM.Name != "" {
		var opts []anyllmlib.Option
		if cfg.Provider.LLM.APIKey != "" {
			opts = append(opts, anyllmlib.WithAPIKey(cfg.Provider.LLM.APIKey))
		}
		if cfg.Provider.LLM.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(cfg.Provider.LLM.BaseURL))
		}
		c, err := intent.NewAnyLLMCompleter(cfg.Provider.LLM.Name, cfg.Voice.LLMModel, opts...)
		if err != nil {
			slog.Warn("failed to construct LLM completer; intent oracle will use keyword matching only", "err", err)
		} else {
			completer = c
		}
	} else {
		slog.Warn("providers.llm.name not configured; intent oracle will use keyword matching only")
	}

	oracle := intent.New(intent.Options{
		Completer:   completer,
		Timeout:     cfg.Voice.LLMTimeout,
		YesKeywords: cfg.Voice.YesKeywords,
		NoKeywords:  cfg.Voice.NoKeywords,
	})

	tools := toolclient.New(toolclient.Options{
		Command:     cfg.MCP.Command,
		Args:        cfg.MCP.Args,
		Env:         cfg.MCP.Env,
		AccessToken: cfg.MCP.Env["ACCESS_TOKEN"],
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancelConnect := context.WithTimeout(ctx, 30*time.Second)
	err = tools.Connect(connectCtx)
	cancelConnect()
	if err != nil {
		slog.Error("failed to connect to biometric-authd tool server", "err", err)
		return 1
	}
	defer tools.Close()

	runner := voiceflow.New(voiceflow.Options{
		Mic:                     audioIn,
		TTS:                     tts,
		Transcriber:             transcriber,
		Wake:                    wake,
		Silence:                 silence,
		Oracle:                  oracle,
		Tools:                   tools,
		Camera:                  newLocalCamera(),
		WakeCaptureDuration:     time.Duration(cfg.Speech.WakeCaptureSeconds * float64(time.Second)),
		FreeformCaptureDuration: time.Duration(cfg.Speech.FreeformCaptureSeconds * float64(time.Second)),
		Logger:                  logger,
	})

	printStartupSummary(cfg)
	slog.Info("biometric-voice ready — listening for the wake word", "flow", *flowName)

	err = dispatch(ctx, runner, *flowName)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if shutErr := shutdownTelemetry(shutdownCtx); shutErr != nil {
		slog.Error("telemetry shutdown error", "err", shutErr)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// dispatch picks the top-level entry point for the given flow name.
//
// "loop" is the everyday front door: it repeatedly waits for the wake
// word and runs Recognize, the system's always-available flow, and
// chains into Register when Recognize reports "not_recognized" (the
// caller accepted the "would you like to register?" offer). Update and
// Delete change or remove an existing profile rather than create one,
// and are not something a stranger should be able to trigger just by
// saying the wake word at an idle terminal, so they are run as an
// explicit one-shot invocation ("-flow=update" / "-flow=delete")
// instead of being woven into the passive listening loop — an operator
// or an administrative wrapper script starts the process in that mode
// when a profile change is actually requested.
func dispatch(ctx context.Context, runner *voiceflow.Runner, flowName string) error {
	switch flowName {
	case "register":
		_, err := runner.RunRegister(ctx)
		return err
	case "update":
		_, err := runner.RunUpdate(ctx)
		return err
	case "delete":
		_, err := runner.RunDelete(ctx)
		return err
	default:
		return recognizeLoop(ctx, runner)
	}
}

func recognizeLoop(ctx context.Context, runner *voiceflow.Runner) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome, err := runner.RunRecognize(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Error("recognize flow error", "err", err)
			continue
		}

		if outcome.Status == "not_recognized" {
			if _, err := runner.RunRegister(ctx); err != nil {
				slog.Error("register flow error", "err", err)
			}
		}
	}
}

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║      biometric-voice — startup        ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Wake words      : %-19s ║\n", truncate(fmt.Sprint(cfg.Speech.WakeWords), 19))
	fmt.Printf("║  Whisper model   : %-19s ║\n", truncate(cfg.Speech.WhisperModelPath, 19))
	fmt.Printf("║  LLM provider    : %-19s ║\n", truncate(cfg.Provider.LLM.Name, 19))
	fmt.Printf("║  MCP command     : %-19s ║\n", truncate(cfg.MCP.Command, 19))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n-1] + "…"
	}
	return s
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogLevelDebug:
		lvl = slog.LevelDebug
	case config.LogLevelWarn:
		lvl = slog.LevelWarn
	case config.LogLevelError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
