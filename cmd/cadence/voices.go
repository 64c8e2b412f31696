package main

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrWong99/cadence/internal/config"
	"github.com/MrWong99/cadence/internal/resilience"
	"github.com/MrWong99/cadence/internal/voice/playback"
	"github.com/MrWong99/cadence/pkg/provider/tts"
)

const listVoicesTimeout = 20 * time.Second

type voicesOptions struct {
	voice  string
	gender string
	style  string
	locale string
}

func newVoicesCommand(root *rootOptions) *cobra.Command {
	opts := &voicesOptions{}
	cmd := &cobra.Command{
		Use:   "voices",
		Short: "List TTS voices and show which one would be selected",
		Long: "voices lists the catalogue of the configured TTS provider and marks the voice the selection " +
			"policy picks for the configured preference. Flags override the configured preference.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			reg := config.NewRegistry()
			registerBuiltinProviders(reg)
			p, err := withFallbacks("tts", cfg.Providers.TTS, reg.CreateTTS, resilience.NewTTSFallback)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), listVoicesTimeout)
			defer cancel()
			return listVoices(ctx, cmd.OutOrStdout(), p, opts.merge(cfg.Voice))
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.voice, "voice", "", "preferred voice name or ID fragment")
	f.StringVar(&opts.gender, "gender", "", "preferred gender (female or male)")
	f.StringVar(&opts.style, "style", "", "speaking style (neutral, motivational, professional, supportive)")
	f.StringVar(&opts.locale, "locale", "", "locale used for the fallback order")
	return cmd
}

// merge overlays the flags on the configured defaults.
func (o *voicesOptions) merge(v config.VoiceConfig) selection {
	return selection{
		pref: playback.Preference{
			VoiceName: cmp.Or(o.voice, v.PreferredVoice),
			Gender:    cmp.Or(o.gender, v.Gender),
			Style:     cmp.Or(o.style, v.Style),
		},
		locale: cmp.Or(o.locale, v.Locale),
	}
}

type selection struct {
	pref   playback.Preference
	locale string
}

func listVoices(ctx context.Context, w io.Writer, p tts.Provider, sel selection) error {
	voices, err := p.ListVoices(ctx)
	if err != nil {
		return fmt.Errorf("list voices: %w", err)
	}
	chosen, ok := playback.SelectVoice(voices, sel.pref, sel.locale, playback.DefaultCandidates)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tID\tNAME\tLOCALE\tGENDER")
	for _, v := range voices {
		mark := ""
		if ok && v.ID == chosen.ID {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", mark, v.ID, v.Name, v.Locale, v.Gender)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(w, "\nno voice matches; the provider default is used")
	}
	return nil
}
