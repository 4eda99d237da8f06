package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	apiclient "github.com/stackform/portal/pkg/api/client"
	"github.com/stackform/portal/pkg/schema"
	"github.com/stackform/portal/pkg/wizard"
)

func commandRequest(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: portal request [new|list|show|submit|delete]")
	}
	sub := args[0]
	switch sub {
	case "new":
		return requestNew(args[1:])
	case "list":
		return requestList(args[1:])
	case "show":
		return requestShow(args[1:])
	case "submit":
		return requestSubmit(args[1:])
	case "delete":
		return requestDelete(args[1:])
	default:
		return fmt.Errorf("unknown request command: %s", sub)
	}
}

// requestNew walks the four-step wizard on the terminal and creates the
// draft, optionally submitting it right away.
func requestNew(args []string) error {
	fs := flag.NewFlagSet("request new", flag.ExitOnError)
	fs.Parse(args)

	_, client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	envs, err := client.ListEnvironments(ctx, token)
	if err != nil {
		return err
	}
	if len(envs) == 0 {
		return errors.New("no environments available")
	}
	types, err := client.ListResourceTypes(ctx, token)
	if err != nil {
		return err
	}
	if len(types) == 0 {
		return errors.New("no resource types available")
	}

	in := bufio.NewScanner(os.Stdin)
	w := wizard.New()

	for w.Step() != wizard.StepReview {
		switch w.Step() {
		case wizard.StepEnvironment:
			fmt.Println("Select an environment:")
			for i, env := range envs {
				marker := ""
				if env.RequiresApproval {
					marker = " (requires approval)"
				}
				fmt.Printf("  %d) %s%s\n", i+1, env.Name, marker)
			}
			idx, err := promptChoice(in, len(envs))
			if err != nil {
				return err
			}
			w.SelectEnvironment(envs[idx])
		case wizard.StepResource:
			fmt.Println("Select a resource type:")
			for i, rt := range types {
				fmt.Printf("  %d) %s ($%.2f/mo)\n", i+1, rt.Name, rt.BaseCost)
			}
			idx, err := promptChoice(in, len(types))
			if err != nil {
				return err
			}
			if err := w.SelectResource(types[idx]); err != nil {
				return err
			}
		case wizard.StepConfig:
			if err := promptConfig(in, w); err != nil {
				return err
			}
		}
		if err := w.Next(); err != nil {
			fmt.Printf("  %v\n", err)
		}
	}

	input, err := w.Build()
	if err != nil {
		return err
	}
	fmt.Println("Review:")
	fmt.Printf("  environment: %s\n", w.Environment().Name)
	fmt.Printf("  resource:    %s\n", w.Resource().Name)
	fmt.Printf("  title:       %s\n", input.Title)
	fmt.Printf("  priority:    %s\n", input.Priority)
	for _, field := range w.Fields() {
		if value, ok := input.Config[field.Key]; ok {
			fmt.Printf("  %s: %v\n", field.Title, value)
		}
	}
	if !promptYes(in, "Create this request?") {
		fmt.Println("aborted")
		return nil
	}

	created, err := client.CreateRequest(ctx, token, input)
	if err != nil {
		return err
	}
	fmt.Printf("request created: %s (%s)\n", created.ID, created.Status)

	if promptYes(in, "Submit it now?") {
		submitted, err := client.SubmitRequest(ctx, token, created.ID)
		if err != nil {
			return err
		}
		fmt.Printf("request submitted: %s (%s)\n", submitted.ID, submitted.Status)
	}
	return nil
}

// promptConfig collects the title, description and every schema field.
// Pressing enter keeps the shown default.
func promptConfig(in *bufio.Scanner, w *wizard.Wizard) error {
	title := promptLine(in, "Title: ")
	w.SetTitle(title)
	w.SetDescription(promptLine(in, "Description (optional): "))
	for {
		raw := promptLine(in, "Priority [low|normal|high|urgent] (default normal): ")
		if err := w.SetPriority(raw); err != nil {
			fmt.Printf("  %v\n", err)
			continue
		}
		break
	}

	for _, field := range w.Fields() {
		for {
			label := field.Title
			switch field.Kind {
			case schema.KindEnum:
				label += " [" + strings.Join(field.Choices, "|") + "]"
			case schema.KindBoolean:
				label += " [true|false]"
			}
			if field.HasDefault() {
				label += fmt.Sprintf(" (default %v)", field.Default)
			}
			raw := promptLine(in, label+": ")
			if raw == "" {
				break
			}
			value, err := parseFieldValue(field, raw)
			if err != nil {
				fmt.Printf("  %v\n", err)
				continue
			}
			if err := w.SetField(field.Key, value); err != nil {
				fmt.Printf("  %v\n", err)
				continue
			}
			break
		}
	}
	return nil
}

func parseFieldValue(field schema.Field, raw string) (any, error) {
	switch field.Kind {
	case schema.KindBoolean:
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", raw)
		}
		return parsed, nil
	case schema.KindNumber:
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", raw)
		}
		return parsed, nil
	default:
		return raw, nil
	}
}

func promptLine(in *bufio.Scanner, label string) string {
	fmt.Print(label)
	if !in.Scan() {
		return ""
	}
	return strings.TrimSpace(in.Text())
}

func promptChoice(in *bufio.Scanner, max int) (int, error) {
	for {
		raw := promptLine(in, "> ")
		idx, err := strconv.Atoi(raw)
		if err == nil && idx >= 1 && idx <= max {
			return idx - 1, nil
		}
		if raw == "" {
			return 0, errors.New("selection aborted")
		}
		fmt.Printf("  enter a number between 1 and %d\n", max)
	}
}

func promptYes(in *bufio.Scanner, question string) bool {
	answer := promptLine(in, question+" [y/N] ")
	return strings.EqualFold(answer, "y") || strings.EqualFold(answer, "yes")
}

func requestList(args []string) error {
	fs := flag.NewFlagSet("request list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by status")
	environment := fs.String("environment", "", "Filter by environment identifier")
	fs.Parse(args)

	_, client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	requests, err := client.ListRequests(ctx, token, apiclient.RequestFilter{
		Status:        *status,
		EnvironmentID: *environment,
	})
	if err != nil {
		return err
	}
	for _, req := range requests {
		fmt.Printf("%s\t%s\t%s\t%s\n", req.ID, req.Status, req.Title, req.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func requestShow(args []string) error {
	fs := flag.NewFlagSet("request show", flag.ExitOnError)
	id := fs.String("id", "", "Request identifier")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}

	_, client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := client.GetRequest(ctx, token, *id)
	if err != nil {
		return err
	}
	fmt.Printf("id:          %s\n", req.ID)
	fmt.Printf("title:       %s\n", req.Title)
	fmt.Printf("status:      %s\n", req.Status)
	fmt.Printf("priority:    %s\n", req.Priority)
	fmt.Printf("environment: %s\n", req.EnvironmentID)
	fmt.Printf("resource:    %s\n", req.ResourceTypeID)
	if req.Description != "" {
		fmt.Printf("description: %s\n", req.Description)
	}
	fmt.Printf("config:      %s\n", string(req.Config))
	if req.SubmittedAt != nil {
		fmt.Printf("submitted:   %s\n", req.SubmittedAt.Format(time.RFC3339))
	}
	if req.CompletedAt != nil {
		fmt.Printf("completed:   %s\n", req.CompletedAt.Format(time.RFC3339))
	}
	return nil
}

func requestSubmit(args []string) error {
	fs := flag.NewFlagSet("request submit", flag.ExitOnError)
	id := fs.String("id", "", "Request identifier")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}

	_, client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	req, err := client.SubmitRequest(ctx, token, *id)
	if err != nil {
		return err
	}
	fmt.Printf("request submitted: %s (%s)\n", req.ID, req.Status)
	return nil
}

func requestDelete(args []string) error {
	fs := flag.NewFlagSet("request delete", flag.ExitOnError)
	id := fs.String("id", "", "Request identifier")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}

	_, client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := client.DeleteRequest(ctx, token, *id); err != nil {
		return err
	}
	fmt.Println("request deleted")
	return nil
}
