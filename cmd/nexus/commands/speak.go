package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/qqhmm2-web/NexusAI/pkg/cli"
	"github.com/qqhmm2-web/NexusAI/pkg/session"
	"github.com/qqhmm2-web/NexusAI/pkg/speech"
)

var speakCmd = &cobra.Command{
	Use:   "speak [text...]",
	Short: "Synthesize speech to a WAV file",
	Long: `Synthesize speech for text, or for a stored message, and write it as a
16-bit mono WAV file.

Without text, the message named by --message is read. With --session but no
--message, the last assistant message of the session is read.

Examples:
  nexus speak "hello operator" -o hello.wav
  nexus speak --session SESSION_ID -o answer.wav
  nexus speak --session SESSION_ID --message MESSAGE_ID --rate 16000`,
	RunE: runSpeak,
}

func init() {
	speakCmd.Flags().String("session", "", "session holding the message to read (default: active session)")
	speakCmd.Flags().String("message", "", "message ID to read")
	speakCmd.Flags().StringP("output", "o", "speech.wav", "output WAV file")
	speakCmd.Flags().Int("rate", 0, "resample to this sample rate in Hz (default: as synthesized)")
}

func runSpeak(cmd *cobra.Command, args []string) error {
	sessionID, _ := cmd.Flags().GetString("session")
	messageID, _ := cmd.Flags().GetString("message")
	outPath, _ := cmd.Flags().GetString("output")
	rate, _ := cmd.Flags().GetInt("rate")

	if rate < 0 {
		return fmt.Errorf("--rate must be positive")
	}
	if outPath == "" {
		return fmt.Errorf("--output is required")
	}

	cctx, err := getContext()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	text := strings.Join(args, " ")
	if text == "" {
		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		text, err = messageText(a, sessionID, messageID)
		a.Close()
		if err != nil {
			return err
		}
	}
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("nothing to read")
	}

	client, err := newClient(ctx, cctx)
	if err != nil {
		return err
	}
	synth := speech.NewSynthesizer(client, speechOptions(cctx)...)
	wave, err := synth.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	if rate != 0 {
		if wave, err = wave.Resample(rate); err != nil {
			return err
		}
	}

	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	if err := wave.WriteWAV(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write WAV: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to write WAV: %w", err)
	}

	if outputJSON {
		return outputResult(cmd.OutOrStdout(), map[string]any{
			"file":        outPath,
			"voice":       synth.Voice(),
			"sample_rate": wave.SampleRate,
			"duration_ms": wave.Duration().Milliseconds(),
		})
	}
	cli.PrintSuccess("Wrote %s (%s, %d Hz, voice %s)", outPath, cli.FormatDuration(wave.Duration()), wave.SampleRate, synth.Voice())
	return nil
}

// messageText finds the text to read: the named message, or the last
// assistant message of the session.
func messageText(a *app, sessionID, messageID string) (string, error) {
	sess, err := a.resolveSession(sessionID)
	if err != nil {
		return "", err
	}
	if messageID != "" {
		msg, ok := sess.Message(messageID)
		if !ok {
			return "", fmt.Errorf("message %s not found in session %s", messageID, sess.ID)
		}
		return msg.Content, nil
	}
	for i := len(sess.Messages) - 1; i >= 0; i-- {
		if m := sess.Messages[i]; m.Role == session.RoleAssistant && !m.IsStreaming {
			return m.Content, nil
		}
	}
	return "", fmt.Errorf("session %s has no assistant message", sess.ID)
}
