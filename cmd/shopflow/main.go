package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"shopflow/internal/app"
	"shopflow/internal/config"
	"shopflow/internal/db"
	"shopflow/internal/domain"
	"shopflow/internal/engine"
	"shopflow/internal/migrate"
	"shopflow/internal/repo"
	"shopflow/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "shopflow",
	Short: "ShopFlow CLI",
	Long: `ShopFlow tracks manufacturing tasks through guarded workflow statuses.
- Workspace: the .shopflow directory holding the SQLite database.
- Project: owns its members, its workflow (statuses and transitions), and its tasks.
- Statuses: the stations a task moves through; one initial, any number of final.
- Transitions: the allowed moves between statuses, each with a permission
  rule, optional attachment requirement, and optional approval quorum.
- Approvals: recorded sign-offs; reaching a transition's quorum can fire an
  automatic move.
- History: append-only audit log per task, view with 'shopflow task history'.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("SHOPFLOW")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (overrides the single-project default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(memberCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(transitionCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(approvalCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(serveCmd())
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectTransferCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Owner", "Gated"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.OwnerID, p.WorkflowGated})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	var ungated bool
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project and seed its workflow from config",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.OwnerID = viper.GetString("actor-id")
			opts.WorkflowGated = !ungated
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "project id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().BoolVar(&ungated, "ungated", false, "disable workflow gating")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectUpdateCmd() *cobra.Command {
	var name, description string
	var gated bool
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			var opts engine.ProjectUpdateOptions
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("gated") {
				opts.WorkflowGated = &gated
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project, actor domain.Actor) error {
				res, err := e.UpdateProject(ctx, p.ID, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().BoolVar(&gated, "gated", true, "enforce workflow transitions")
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project, actor domain.Actor) error {
				return e.DeleteProject(ctx, p.ID, actor)
			})
		},
	}
	return cmd
}

func projectTransferCmd() *cobra.Command {
	var newOwner string
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Transfer project ownership",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project, actor domain.Actor) error {
				if err := e.TransferOwnership(ctx, p.ID, newOwner, actor); err != nil {
					return err
				}
				res, err := e.Repo.GetProject(ctx, p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&newOwner, "to", "", "new owner user id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func memberCmd() *cobra.Command {
	m := &cobra.Command{Use: "member", Short: "Manage project members"}
	m.AddCommand(memberListCmd())
	m.AddCommand(memberAddCmd())
	m.AddCommand(memberRemoveCmd())
	return m
}

func memberListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				items, err := e.Repo.ListMembers(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"User", "Role", "Added By"})
				for _, m := range items {
					tw.AppendRow(table.Row{m.UserID, m.Role, m.AddedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func memberAddCmd() *cobra.Command {
	var userID, role string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add or update a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project, actor domain.Actor) error {
				m, err := e.AddMember(ctx, p.ID, userID, domain.Role(role), actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "member", "role (admin, member, viewer)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func memberRemoveCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Remove a member",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project, actor domain.Actor) error {
				return e.RemoveMember(ctx, p.ID, userID, actor)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func statusCmd() *cobra.Command {
	s := &cobra.Command{
		Use:   "status",
		Short: "Manage workflow statuses",
	}
	s.AddCommand(statusListCmd())
	s.AddCommand(statusCreateCmd())
	s.AddCommand(statusUpdateCmd())
	s.AddCommand(statusDeleteCmd())
	return s
}

func statusListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List statuses",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				items, err := e.Repo.ListStatuses(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Initial", "Final", "System"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.ID, s.Name, s.IsInitial, s.IsFinal, s.IsSystem})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func statusCreateCmd() *cobra.Command {
	var opts engine.StatusCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project, actor domain.Actor) error {
				opts.ProjectID = p.ID
				s, err := e.CreateStatus(ctx, opts, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "status name")
	cmd.Flags().StringVar(&opts.Color, "color", "", "display color")
	cmd.Flags().IntVar(&opts.OrderIndex, "order", 0, "display order")
	cmd.Flags().BoolVar(&opts.IsInitial, "initial", false, "mark as the initial status")
	cmd.Flags().BoolVar(&opts.IsFinal, "final", false, "mark as a final status")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func statusUpdateCmd() *cobra.Command {
	var name, color string
	var order int
	var initial, final bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			var patch repo.StatusPatch
			if cmd.Flags().Changed("name") {
				patch.Name = &name
			}
			if cmd.Flags().Changed("color") {
				patch.Color = &color
			}
			if cmd.Flags().Changed("order") {
				patch.OrderIndex = &order
			}
			if cmd.Flags().Changed("initial") {
				patch.IsInitial = &initial
			}
			if cmd.Flags().Changed("final") {
				patch.IsFinal = &final
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project, actor domain.Actor) error {
				s, err := e.UpdateStatus(ctx, id, actor, patch)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "status name")
	cmd.Flags().StringVar(&color, "color", "", "display color")
	cmd.Flags().IntVar(&order, "order", 0, "display order")
	cmd.Flags().BoolVar(&initial, "initial", false, "mark as the initial status")
	cmd.Flags().BoolVar(&final, "final", false, "mark as a final status")
	return cmd
}

func statusDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project, actor domain.Actor) error {
				return e.DeleteStatus(ctx, id, actor)
			})
		},
	}
	return cmd
}

func transitionCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "transition",
		Short: "Manage workflow transitions",
	}
	t.AddCommand(transitionListCmd())
	t.AddCommand(transitionCreateCmd())
	t.AddCommand(transitionDeleteCmd())
	return t
}

func transitionListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List transitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				items, err := e.Repo.ListTransitions(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "From", "To", "Bidi", "Approvals", "Auto"})
				for _, tr := range items {
					tw.AppendRow(table.Row{tr.ID, tr.Name, tr.FromStatusID, tr.ToStatusID, tr.IsBidirectional, tr.RequiredApprovals, tr.AutoTransition})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func transitionCreateCmd() *cobra.Command {
	var opts engine.TransitionCreateOptions
	var permKind string
	var permRoles, permUsers []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a transition",
		RunE: func(cmd *cobra.Command, args []string) error {
			roles := make([]domain.Role, 0, len(permRoles))
			for _, r := range permRoles {
				roles = append(roles, domain.Role(r))
			}
			opts.Permission = domain.PermissionRule{
				Kind:  domain.PermissionKind(permKind),
				Roles: roles,
				Users: permUsers,
			}
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project, actor domain.Actor) error {
				opts.ProjectID = p.ID
				tr, err := e.CreateTransition(ctx, opts, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(tr)
			})
		},
	}
	cmd.Flags().StringVar(&opts.FromStatusID, "from", "", "from status id")
	cmd.Flags().StringVar(&opts.ToStatusID, "to", "", "to status id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "transition name")
	cmd.Flags().StringVar(&permKind, "permission", "open", "permission kind (open, roles, users)")
	cmd.Flags().StringArrayVar(&permRoles, "role", []string{}, "allowed role (repeatable)")
	cmd.Flags().StringArrayVar(&permUsers, "user", []string{}, "allowed user (repeatable)")
	cmd.Flags().BoolVar(&opts.IsBidirectional, "bidirectional", false, "allow the reverse move")
	cmd.Flags().BoolVar(&opts.RequiresAttachment, "requires-attachment", false, "require at least one attachment")
	cmd.Flags().IntVar(&opts.RequiredApprovals, "approvals", 0, "approval quorum")
	cmd.Flags().StringArrayVar(&opts.RequiredApprovers, "approver", []string{}, "counted approver (repeatable)")
	cmd.Flags().BoolVar(&opts.AutoTransition, "auto", false, "fire automatically when guards pass")
	cmd.Flags().IntVar(&opts.Priority, "priority", 0, "auto-transition priority (lower first)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func transitionDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project, actor domain.Actor) error {
				return e.DeleteTransition(ctx, id, actor)
			})
		},
	}
	return cmd
}

func taskCmd() *cobra.Command {
	t := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	t.AddCommand(taskCreateCmd())
	t.AddCommand(taskListCmd())
	t.AddCommand(taskGetCmd())
	t.AddCommand(taskUpdateCmd())
	t.AddCommand(taskMoveCmd())
	t.AddCommand(taskDeleteCmd())
	t.AddCommand(taskAttachCmd())
	t.AddCommand(taskHistoryCmd())
	return t
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task in the project's initial status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withActor(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project, actor domain.Actor) error {
				opts.ProjectID = p.ID
				t, err := e.CreateTask(ctx, opts, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "task id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.AssigneeID, "assignee", "", "assignee id")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority label")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				f.ProjectID = p.ID
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				statuses, err := e.Repo.ListStatuses(ctx, p.ID)
				if err != nil {
					return err
				}
				names := make(map[string]string, len(statuses))
				for _, s := range statuses {
					names[s.ID] = s.Name
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Assignee", "Version"})
				for _, t := range tasks {
					assignee := ""
					if t.AssigneeID != nil {
						assignee = *t.AssigneeID
					}
					status := names[t.StatusID]
					if status == "" {
						status = t.StatusID
					}
					tw.AppendRow(table.Row{t.ID, t.Title, status, assignee, t.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.StatusID, "status", "", "status id filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "assignee filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func taskGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := e.Repo.GetTask(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, assignee, priority string
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			var opts engine.TaskUpdateOptions
			if cmd.Flags().Changed("title") {
				opts.Title = &title
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("assignee") {
				opts.AssigneeID = &assignee
			}
			if cmd.Flags().Changed("priority") {
				opts.Priority = &priority
			}
			return withTaskActor(cmd.Context(), id, func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.UpdateTask(ctx, id, actor, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee id (empty clears)")
	cmd.Flags().StringVar(&priority, "priority", "", "priority label")
	return cmd
}

func taskMoveCmd() *cobra.Command {
	var statusID string
	cmd := &cobra.Command{
		Use:   "move <id>",
		Short: "Request a status change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withTaskActor(cmd.Context(), id, func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				t, err := e.RequestStatusChange(ctx, id, statusID, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&statusID, "to", "", "target status id")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func taskDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withTaskActor(cmd.Context(), id, func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				return e.DeleteTask(ctx, id, actor)
			})
		},
	}
	return cmd
}

func taskAttachCmd() *cobra.Command {
	var fileName string
	cmd := &cobra.Command{
		Use:   "attach <id>",
		Short: "Attach a file reference to a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withTaskActor(cmd.Context(), id, func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				a, err := e.AddAttachment(ctx, id, fileName, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&fileName, "file", "", "file name")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func taskHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show task history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				entries, err := e.Repo.ListHistory(ctx, id)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Actor", "Action", "Field", "Old", "New"})
				for _, h := range entries {
					tw.AppendRow(table.Row{h.TS, h.ActorID, h.Action, h.Field, h.OldValue, h.NewValue})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func approvalCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "approval",
		Short: "Manage task approvals",
	}
	a.AddCommand(approvalAddCmd())
	a.AddCommand(approvalListCmd())
	a.AddCommand(approvalRemoveCmd())
	return a
}

func approvalAddCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "add <task-id>",
		Short: "Record an approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withTaskActor(cmd.Context(), id, func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				a, err := e.AddApproval(ctx, id, comment, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(a)
			})
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "approval comment")
	return cmd
}

func approvalListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <task-id>",
		Short: "List approvals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListApprovals(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func approvalRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove <task-id>",
		Short: "Withdraw the caller's approvals",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withTaskActor(cmd.Context(), id, func(ctx context.Context, e engine.Engine, actor domain.Actor) error {
				n, err := e.RemoveApproval(ctx, id, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int64{"removed": n})
			})
		},
	}
	return cmd
}

func summaryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Show project rollup",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(ctx context.Context, e engine.Engine, p domain.Project) error {
				counts, err := e.Repo.CountTasksByStatus(ctx, p.ID)
				if err != nil {
					return err
				}
				statuses, err := e.Repo.ListStatuses(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"project":         p,
						"tasks_by_status": counts,
					})
				}
				fmt.Printf("Project: %s (%s)\n", p.Name, p.ID)
				fmt.Println("Tasks:")
				for _, s := range statuses {
					fmt.Printf("  %s: %d\n", s.Name, counts[s.ID])
				}
				return nil
			})
		},
	}
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect the workflow template",
	}
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	return cmd
}

func configValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the workflow template",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(viper.GetString("workspace"))
			if err == nil {
				err = cfg.Validate()
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	a := &cobra.Command{Use: "apikey", Short: "Manage API keys"}
	a.AddCommand(apikeyCreateCmd())
	a.AddCommand(apikeyListCmd())
	a.AddCommand(apikeyDeleteCmd())
	return a
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.New().String() + uuid.New().String()
				key := domain.APIKey{
					ID:      uuid.New().String(),
					ActorID: viper.GetString("actor-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				// The raw key is shown once and never stored.
				return printJSONOrTable(map[string]string{
					"id":  key.ID,
					"key": raw,
				})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListAPIKeys(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	return cmd
}

func apikeyDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin, legacyHeader bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			authCfg := server.AuthConfig{
				JWTSecret:              os.Getenv("SHOPFLOW_JWT_SECRET"),
				DevLoginEnabled:        devLogin,
				AllowLegacyActorHeader: legacyHeader,
			}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("SHOPFLOW_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving ShopFlow API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "enable the dev token endpoint")
	cmd.Flags().BoolVar(&legacyHeader, "allow-actor-header", false, "accept the legacy X-Actor-Id header")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func withProject(ctx context.Context, fn func(context.Context, engine.Engine, domain.Project) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		p, err := app.ResolveProject(ctx, e.Repo, viper.GetString("project"))
		if err != nil {
			return err
		}
		return fn(ctx, e, p)
	})
}

func withActor(ctx context.Context, fn func(context.Context, engine.Engine, domain.Project, domain.Actor) error) error {
	return withProject(ctx, func(ctx context.Context, e engine.Engine, p domain.Project) error {
		actor, err := app.ResolveActor(ctx, e, p.ID, viper.GetString("actor-id"))
		if err != nil {
			return err
		}
		return fn(ctx, e, p, actor)
	})
}

func withTaskActor(ctx context.Context, taskID string, fn func(context.Context, engine.Engine, domain.Actor) error) error {
	return withEngine(ctx, func(ctx context.Context, e engine.Engine) error {
		t, err := e.Repo.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		actor, err := app.ResolveActor(ctx, e, t.ProjectID, viper.GetString("actor-id"))
		if err != nil {
			return err
		}
		return fn(ctx, e, actor)
	})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
