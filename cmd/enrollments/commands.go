package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-records/internal/models"
	"github.com/noah-isme/enrollment-records/pkg/response"
)

func (c *cli) flagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(c.stderr)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usagef("%s: %v", fs.Name(), err)
	}
	if fs.NArg() > 0 {
		return usagef("%s: unexpected arguments %v", fs.Name(), fs.Args())
	}
	return nil
}

func (c *cli) withApp(ctx context.Context, fn func(a *app) error) error {
	a, err := c.openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// recordFlags binds the four record fields. Flags that are not given stay unset.
type recordFlags struct {
	fs                     *flag.FlagSet
	first, last, dob, lang string
}

func bindRecordFlags(fs *flag.FlagSet) *recordFlags {
	r := &recordFlags{fs: fs}
	fs.StringVar(&r.first, "first", "", "first name")
	fs.StringVar(&r.last, "last", "", "last name")
	fs.StringVar(&r.dob, "dob", "", "date of birth (YYYY-MM-DD)")
	fs.StringVar(&r.lang, "lang", "", "preferred language")
	return r
}

func (r *recordFlags) build() (*models.Enrollment, error) {
	e := models.NewEnrollment()
	var dobErr error
	r.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "first":
			e.SetFirstName(models.StringPtr(r.first))
		case "last":
			e.SetLastName(models.StringPtr(r.last))
		case "lang":
			e.SetLanguage(models.StringPtr(r.lang))
		case "dob":
			dob, err := models.ParseDate(r.dob)
			if err != nil {
				dobErr = usagef("%s: %v", r.fs.Name(), err)
				return
			}
			e.SetDateOfBirth(dob)
		}
	})
	if dobErr != nil {
		return nil, dobErr
	}
	return e, nil
}

// anySet reports whether any record flag was given.
func (r *recordFlags) anySet() bool {
	set := false
	r.fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "first", "last", "dob", "lang":
			set = true
		}
	})
	return set
}

func requireID(fs *flag.FlagSet, id string) error {
	if strings.TrimSpace(id) == "" {
		return usagef("%s: -id is required", fs.Name())
	}
	return nil
}

func runDescribe(c *cli, ctx context.Context, args []string) error {
	fs := c.flagSet("describe")
	id := fs.String("id", "", "describe a stored record instead of one built from flags")
	record := bindRecordFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}

	if *id != "" && record.anySet() {
		return usagef("describe: -id cannot be combined with record flags")
	}
	if *id == "" {
		e, err := record.build()
		if err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, e.String())
		return nil
	}
	return c.withApp(ctx, func(a *app) error {
		desc, err := a.enrollments.Describe(ctx, *id)
		if err != nil {
			return err
		}
		fmt.Fprintln(c.stdout, desc)
		return nil
	})
}

func runCreate(c *cli, ctx context.Context, args []string) error {
	fs := c.flagSet("create")
	record := bindRecordFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	e, err := record.build()
	if err != nil {
		return err
	}
	return c.withApp(ctx, func(a *app) error {
		stored, err := a.enrollments.Create(ctx, e)
		if err != nil {
			return err
		}
		return response.JSON(c.stdout, stored, nil)
	})
}

func runGet(c *cli, ctx context.Context, args []string) error {
	fs := c.flagSet("get")
	id := fs.String("id", "", "record identifier")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireID(fs, *id); err != nil {
		return err
	}
	return c.withApp(ctx, func(a *app) error {
		stored, err := a.enrollments.Get(ctx, *id)
		if err != nil {
			return err
		}
		return response.JSON(c.stdout, stored, nil)
	})
}

func bindFilterFlags(fs *flag.FlagSet) *models.EnrollmentFilter {
	filter := &models.EnrollmentFilter{}
	fs.StringVar(&filter.Language, "lang", "", "filter by language (case-insensitive)")
	fs.StringVar(&filter.LastName, "last", "", "filter by last name prefix")
	return filter
}

func runList(c *cli, ctx context.Context, args []string) error {
	fs := c.flagSet("list")
	filter := bindFilterFlags(fs)
	fs.IntVar(&filter.Page, "page", 1, "page number")
	fs.IntVar(&filter.PageSize, "limit", 20, "page size (1-100, otherwise 20)")
	fs.StringVar(&filter.SortBy, "sort", "created_at", "sort column: created_at, last_name or date_of_birth")
	fs.StringVar(&filter.SortOrder, "order", "asc", "sort order: asc or desc")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	return c.withApp(ctx, func(a *app) error {
		records, pagination, err := a.enrollments.List(ctx, *filter)
		if err != nil {
			return err
		}
		if records == nil {
			records = []models.StoredEnrollment{}
		}
		return response.JSON(c.stdout, records, pagination)
	})
}

func runUpdate(c *cli, ctx context.Context, args []string) error {
	fs := c.flagSet("update")
	id := fs.String("id", "", "record identifier")
	record := bindRecordFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireID(fs, *id); err != nil {
		return err
	}
	e, err := record.build()
	if err != nil {
		return err
	}
	return c.withApp(ctx, func(a *app) error {
		stored, err := a.enrollments.Update(ctx, *id, e)
		if err != nil {
			return err
		}
		return response.JSON(c.stdout, stored, nil)
	})
}

func runDelete(c *cli, ctx context.Context, args []string) error {
	fs := c.flagSet("delete")
	id := fs.String("id", "", "record identifier")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if err := requireID(fs, *id); err != nil {
		return err
	}
	return c.withApp(ctx, func(a *app) error {
		if err := a.enrollments.Delete(ctx, *id); err != nil {
			return err
		}
		return response.JSON(c.stdout, map[string]string{"deleted": *id}, nil)
	})
}

func runExport(c *cli, ctx context.Context, args []string) error {
	fs := c.flagSet("export")
	format := fs.String("format", "all", "csv, pdf or all")
	toStdout := fs.Bool("stdout", false, "write the rendered file to stdout and discard the stored copy")
	filter := bindFilterFlags(fs)
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	all := strings.EqualFold(*format, "all")
	if all && *toStdout {
		return usagef("export: -stdout needs a single -format")
	}
	return c.withApp(ctx, func(a *app) error {
		if all {
			results, err := a.exports.ExportAll(ctx, *filter)
			if err != nil {
				return err
			}
			return response.JSON(c.stdout, results, nil)
		}
		result, err := a.exports.Export(ctx, *filter, models.ExportFormat(*format))
		if err != nil {
			return err
		}
		if *toStdout {
			return streamExport(c.stdout, a, result.RelativePath)
		}
		return response.JSON(c.stdout, result, nil)
	})
}

func streamExport(w io.Writer, a *app, relPath string) error {
	f, err := a.exports.Open(relPath)
	if err != nil {
		return err
	}
	_, copyErr := io.Copy(w, f)
	f.Close()
	if err := a.exports.Delete(relPath); err != nil {
		a.logger.Warn("remove streamed export failed", zap.String("path", relPath), zap.Error(err))
	}
	return copyErr
}

func runCleanup(c *cli, ctx context.Context, args []string) error {
	fs := c.flagSet("cleanup")
	ttl := fs.Duration("ttl", 0, "remove exports older than this (defaults to EXPORTS_RESULT_TTL)")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	if *ttl < 0 {
		return usagef("cleanup: -ttl must not be negative")
	}
	return c.withApp(ctx, func(a *app) error {
		deleted, err := a.exports.Cleanup(*ttl)
		if err != nil {
			return err
		}
		return response.JSON(c.stdout, deleted, nil, map[string]interface{}{
			"count":  len(deleted),
			"run_at": time.Now().UTC(),
		})
	})
}

func runMigrate(c *cli, ctx context.Context, args []string) error {
	fs := c.flagSet("migrate")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	return c.withApp(ctx, func(a *app) error {
		if err := a.migrate(ctx); err != nil {
			return err
		}
		a.logger.Info("enrollments schema applied")
		fmt.Fprintln(c.stdout, "migrated")
		return nil
	})
}
