package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/drhazemibclc/pediatric-clinic/internal/config"
	"github.com/drhazemibclc/pediatric-clinic/internal/domain/growth"
	"github.com/drhazemibclc/pediatric-clinic/internal/platform/auth"
	"github.com/drhazemibclc/pediatric-clinic/internal/platform/lms"
)

func zscoreCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zscore",
		Short: "Compute a single Z-score against the reference tables",
		Example: `  clinic-server zscore --chart wfa --gender boys --age-days 365 --value 9.6
  clinic-server zscore --chart hcfa --gender girls --dob 2024-01-10 --date 2024-07-10 --value 42.1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("reference")
			dataset, err := loadDataset(path)
			if err != nil {
				return err
			}
			svc := growth.NewService(nil, nil, lms.NewEngine(dataset, zerolog.Nop(), nil), zerolog.Nop())

			in, err := calculateInputFromFlags(cmd)
			if err != nil {
				return err
			}
			out, err := svc.Calculate(in)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().String("chart", "", "Chart type: wfa, lhfa, hcfa or bfa")
	cmd.Flags().String("gender", "", "boys or girls")
	cmd.Flags().Int("age-days", -1, "Age in days (takes precedence over --dob/--date)")
	cmd.Flags().String("dob", "", "Date of birth (YYYY-MM-DD)")
	cmd.Flags().String("date", "", "Measurement date (YYYY-MM-DD)")
	cmd.Flags().Float64("value", 0, "Measured value in the chart's unit")
	cmd.Flags().String("reference", "", "Reference JSON file (defaults to the bundled tables)")
	_ = cmd.MarkFlagRequired("chart")
	_ = cmd.MarkFlagRequired("gender")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func calculateInputFromFlags(cmd *cobra.Command) (growth.CalculateInput, error) {
	chartFlag, _ := cmd.Flags().GetString("chart")
	genderFlag, _ := cmd.Flags().GetString("gender")
	value, _ := cmd.Flags().GetFloat64("value")

	gender, ok := growth.ParseReferenceGender(genderFlag)
	if !ok {
		return growth.CalculateInput{}, fmt.Errorf("unknown gender %q", genderFlag)
	}
	in := growth.CalculateInput{
		Chart:  lms.ChartType(strings.ToLower(chartFlag)),
		Gender: gender,
		Value:  value,
	}

	if cmd.Flags().Changed("age-days") {
		days, _ := cmd.Flags().GetInt("age-days")
		in.AgeDays = &days
		return in, nil
	}
	dobFlag, _ := cmd.Flags().GetString("dob")
	dateFlag, _ := cmd.Flags().GetString("date")
	if dobFlag == "" || dateFlag == "" {
		return in, fmt.Errorf("either --age-days or both --dob and --date are required")
	}
	dob, err := time.Parse("2006-01-02", dobFlag)
	if err != nil {
		return in, fmt.Errorf("invalid --dob: %w", err)
	}
	date, err := time.Parse("2006-01-02", dateFlag)
	if err != nil {
		return in, fmt.Errorf("invalid --date: %w", err)
	}
	in.DateOfBirth, in.Date = &dob, &date
	return in, nil
}

func referenceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reference",
		Short: "List the loaded growth reference tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("reference")
			dataset, err := loadDataset(path)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-6s %-6s %-8s %-10s %s\n", "CHART", "GENDER", "POINTS", "FIRST DAY", "LAST DAY")
			for _, t := range dataset.Charts() {
				fmt.Fprintf(out, "%-6s %-6s %-8d %-10d %d\n", t.Chart, t.Gender, t.Points, t.FirstDay, t.LastDay)
			}
			return nil
		},
	}
	cmd.Flags().String("reference", "", "Reference JSON file (defaults to the bundled tables)")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a signed access token using AUTH_SIGNING_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.AuthSigningKey == "" {
				return fmt.Errorf("AUTH_SIGNING_KEY is not set")
			}

			subject, _ := cmd.Flags().GetString("subject")
			roles, _ := cmd.Flags().GetStringSlice("role")
			patientID, _ := cmd.Flags().GetString("patient")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			token, err := auth.IssueToken(auth.JWTConfig{
				Issuer:     cfg.AuthIssuer,
				Audience:   cfg.AuthAudience,
				SigningKey: []byte(cfg.AuthSigningKey),
			}, subject, roles, patientID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().String("subject", "", "Token subject (user id)")
	cmd.Flags().StringSlice("role", []string{auth.RoleDoctor}, "Role to grant (repeatable)")
	cmd.Flags().String("patient", "", "Patient id a patient-role token is bound to")
	cmd.Flags().Duration("ttl", time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
