package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/urfave/cli/v3"

	"github.com/taskmaster-dev/taskmaster/internal/contextstore"
	"github.com/taskmaster-dev/taskmaster/internal/taskapi"
)

func contextCommand() *cli.Command {
	return &cli.Command{
		Name:  "context",
		Usage: "Select the organization and brief for task storage",
		Commands: []*cli.Command{
			contextShowCommand(),
			contextOrgCommand(),
			contextBriefCommand(),
			contextClearCommand(),
		},
	}
}

func contextShowCommand() *cli.Command {
	return &cli.Command{
		Name:   "show",
		Usage:  "Show the current working context",
		Action: contextShowAction,
	}
}

func contextShowAction(ctx context.Context, cmd *cli.Command) error {
	application, _, err := setupApp(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	uc, err := application.Auth.UserContext(ctx)
	if err != nil {
		return err
	}
	printContext(uc)
	return nil
}

func contextOrgCommand() *cli.Command {
	return &cli.Command{
		Name:      "org",
		Usage:     "Select an organization",
		ArgsUsage: "[id-or-slug]",
		Action:    contextOrgAction,
	}
}

func contextOrgAction(ctx context.Context, cmd *cli.Command) error {
	application, _, err := setupApp(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	orgs, err := application.Auth.ListOrganizations(ctx)
	if err != nil {
		return err
	}
	if len(orgs) == 0 {
		return fmt.Errorf("no organizations available for this account")
	}

	org, err := pickOrganization(orgs, cmd.Args().First())
	if err != nil {
		return err
	}

	if err := application.Auth.SelectOrganization(ctx, *org); err != nil {
		return err
	}

	fmt.Printf("Organization set to %s.\n", orgLabel(*org))
	return nil
}

func pickOrganization(orgs []taskapi.Organization, selector string) (*taskapi.Organization, error) {
	if selector == "" {
		for i, org := range orgs {
			fmt.Printf("%2d. %s (%s)\n", i+1, org.Name, org.Slug)
		}
		line, err := promptLine("Organization: ")
		if err != nil {
			return nil, err
		}
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(orgs) {
			return &orgs[n-1], nil
		}
		selector = line
	}

	for i := range orgs {
		if orgs[i].ID == selector || orgs[i].Slug == selector {
			return &orgs[i], nil
		}
	}
	return nil, fmt.Errorf("unknown organization %q", selector)
}

func contextBriefCommand() *cli.Command {
	return &cli.Command{
		Name:      "brief",
		Usage:     "Select a brief within the current organization",
		ArgsUsage: "[id-or-name]",
		Action:    contextBriefAction,
	}
}

func contextBriefAction(ctx context.Context, cmd *cli.Command) error {
	application, _, err := setupApp(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	uc, err := application.Auth.UserContext(ctx)
	if err != nil {
		return err
	}
	if uc == nil || uc.SelectedContext == nil || uc.SelectedContext.OrgID == "" {
		return fmt.Errorf("no organization selected, run \"taskmaster context org\" first")
	}

	briefs, err := application.Auth.ListBriefs(ctx, uc.SelectedContext.OrgID)
	if err != nil {
		return err
	}
	if len(briefs) == 0 {
		return fmt.Errorf("no briefs in organization %s", selectedOrgLabel(uc.SelectedContext))
	}

	brief, err := pickBrief(briefs, cmd.Args().First())
	if err != nil {
		return err
	}

	if err := application.Auth.SelectBrief(ctx, *brief); err != nil {
		return err
	}

	fmt.Printf("Brief set to %q; tasks now live on the platform.\n", brief.Name)
	return nil
}

func pickBrief(briefs []taskapi.Brief, selector string) (*taskapi.Brief, error) {
	if selector == "" {
		for i, brief := range briefs {
			fmt.Printf("%2d. %s\n", i+1, brief.Name)
		}
		line, err := promptLine("Brief: ")
		if err != nil {
			return nil, err
		}
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(briefs) {
			return &briefs[n-1], nil
		}
		selector = line
	}

	for i := range briefs {
		if briefs[i].ID == selector || briefs[i].Name == selector {
			return &briefs[i], nil
		}
	}
	return nil, fmt.Errorf("unknown brief %q", selector)
}

func contextClearCommand() *cli.Command {
	return &cli.Command{
		Name:   "clear",
		Usage:  "Clear the organization and brief selection",
		Action: contextClearAction,
	}
}

func contextClearAction(ctx context.Context, cmd *cli.Command) error {
	application, _, err := setupApp(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	if err := application.Auth.ClearSelection(ctx); err != nil {
		return err
	}
	fmt.Println("Selection cleared; tasks now live in the local file.")
	return nil
}

func printContext(uc *contextstore.UserContext) {
	if uc == nil || uc.SelectedContext == nil {
		fmt.Println("No organization selected.")
		return
	}

	fmt.Printf("Organization: %s\n", selectedOrgLabel(uc.SelectedContext))
	if uc.SelectedContext.BriefID == "" {
		fmt.Println("No brief selected.")
		return
	}
	brief := uc.SelectedContext.BriefName
	if brief == "" {
		brief = uc.SelectedContext.BriefID
	}
	fmt.Printf("Brief: %s\n", brief)
}

func orgLabel(org taskapi.Organization) string {
	if org.Slug != "" {
		return org.Slug
	}
	return org.ID
}

func selectedOrgLabel(selected *contextstore.SelectedContext) string {
	if selected.OrgSlug != "" {
		return selected.OrgSlug
	}
	return selected.OrgID
}
