package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"
)

func commandApproval(args []string) error {
	if len(args) == 0 {
		return errors.New("usage: portal approval [list|show|approve|reject]")
	}
	sub := args[0]
	switch sub {
	case "list":
		return approvalList(args[1:])
	case "show":
		return approvalShow(args[1:])
	case "approve":
		return approvalDecide(args[1:], true)
	case "reject":
		return approvalDecide(args[1:], false)
	default:
		return fmt.Errorf("unknown approval command: %s", sub)
	}
}

func approvalList(args []string) error {
	fs := flag.NewFlagSet("approval list", flag.ExitOnError)
	status := fs.String("status", "", "Filter by decision status (default pending)")
	fs.Parse(args)

	_, client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	approvals, err := client.ListApprovals(ctx, token, *status)
	if err != nil {
		return err
	}
	for _, a := range approvals {
		title := a.RequestID
		if a.Request != nil {
			title = a.Request.Title
		}
		fmt.Printf("%s\t%s\t%s\t%s\n", a.ID, a.Status, title, a.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func approvalShow(args []string) error {
	fs := flag.NewFlagSet("approval show", flag.ExitOnError)
	id := fs.String("id", "", "Approval identifier")
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

	a, err := client.GetApproval(ctx, token, *id)
	if err != nil {
		return err
	}
	fmt.Printf("id:      %s\n", a.ID)
	fmt.Printf("status:  %s\n", a.Status)
	fmt.Printf("request: %s\n", a.RequestID)
	if a.Request != nil {
		fmt.Printf("title:   %s\n", a.Request.Title)
		fmt.Printf("config:  %s\n", string(a.Request.Config))
	}
	if a.Comment != "" {
		fmt.Printf("comment: %s\n", a.Comment)
	}
	if a.DecidedAt != nil {
		fmt.Printf("decided: %s\n", a.DecidedAt.Format(time.RFC3339))
	}
	return nil
}

func approvalDecide(args []string, approve bool) error {
	name := "approval approve"
	if !approve {
		name = "approval reject"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	id := fs.String("id", "", "Approval identifier")
	comment := fs.String("comment", "", "Decision comment")
	fs.Parse(args)
	if strings.TrimSpace(*id) == "" {
		return errors.New("--id is required")
	}
	if !approve && strings.TrimSpace(*comment) == "" {
		return errors.New("--comment is required when rejecting")
	}

	_, client, token, err := authedClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if approve {
		a, err := client.ApproveRequest(ctx, token, *id, *comment)
		if err != nil {
			return err
		}
		fmt.Printf("approved: %s (request %s)\n", a.ID, a.RequestID)
		return nil
	}
	a, err := client.RejectRequest(ctx, token, *id, *comment)
	if err != nil {
		return err
	}
	fmt.Printf("rejected: %s (request %s)\n", a.ID, a.RequestID)
	return nil
}
