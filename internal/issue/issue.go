// SPDX-License-Identifier: MPL-2.0

package issue

import (
	"cmp"
	"errors"
	"io/fs"
	"strings"

	"github.com/charmbracelet/glamour"
	"golang.org/x/exp/slices"

	"github.com/varkeep/varkeep/pkg/varpkg"
)

// Issue IDs. Each one has a Markdown help page.
const (
	ConfigLoadFailedId Id = iota + 1
	RootMissingId
	PackageNotFoundId
	InvalidPackageNameId
	DuplicatePackageId
	CorruptArchiveId
	MissingDependencyId
	InstallConflictId
	DependencyCycleId
	CacheWriteFailedId
	PermissionDeniedId
)

type (
	// Id identifies an issue kind.
	//
	//nolint:revive // Id matches the issue catalog naming
	Id int

	// MarkdownMsg is the Markdown body of an issue.
	MarkdownMsg string

	// HttpLink is a documentation URL.
	//
	//nolint:revive // HttpLink matches the issue catalog naming
	HttpLink string

	// Issue is a help page for one class of failure.
	Issue struct {
		id       Id
		mdMsg    MarkdownMsg
		docLinks []HttpLink
	}
)

// Id returns the issue ID.
func (i *Issue) Id() Id { return i.id }

// MarkdownMsg returns the raw Markdown body.
func (i *Issue) MarkdownMsg() MarkdownMsg { return i.mdMsg }

// Title returns the first Markdown heading of the message.
func (i *Issue) Title() string {
	for line := range strings.SplitSeq(string(i.mdMsg), "\n") {
		if title, ok := strings.CutPrefix(line, "# "); ok {
			return strings.TrimSpace(title)
		}
	}
	return ""
}

// DocLinks returns the related documentation links.
func (i *Issue) DocLinks() []HttpLink { return slices.Clone(i.docLinks) }

// Render renders the issue with glamour using the given style ("dark",
// "light", "notty", or a JSON style path).
func (i *Issue) Render(stylePath string) (string, error) {
	md := string(i.mdMsg)
	if len(i.docLinks) > 0 {
		var sb strings.Builder
		sb.WriteString("\n\n## See also\n")
		for _, link := range i.docLinks {
			sb.WriteString("- <" + string(link) + ">\n")
		}
		md += sb.String()
	}
	return render(md, stylePath)
}

var (
	render = glamour.Render

	configLoadFailedIssue = &Issue{
		id: ConfigLoadFailedId,
		mdMsg: `
# Configuration could not be loaded

The configuration file is not valid CUE or does not match the schema.

## Things you can try
- Show the effective configuration:
~~~
$ varkeep config show
~~~
- Write a fresh default file and compare:
~~~
$ varkeep config init
~~~
- Unknown keys are rejected. Check spelling against the defaults.`,
	}

	rootMissingIssue = &Issue{
		id: RootMissingId,
		mdMsg: `
# Package root not found

One of the package roots does not exist or is not a directory.

## Things you can try
- Check installed_root and repository_root in your configuration
- Override a root for one run with VARKEEP_INSTALLED_ROOT or VARKEEP_REPOSITORY_ROOT`,
	}

	packageNotFoundIssue = &Issue{
		id: PackageNotFoundId,
		mdMsg: `
# Package not found

No registered package matches the reference.

## Things you can try
- Refresh the index after adding files:
~~~
$ varkeep refresh
~~~
- Search by fuzzy name:
~~~
$ varkeep search <name>
~~~
- Use "Creator.Name.latest" to pick the newest enabled version`,
	}

	invalidPackageNameIssue = &Issue{
		id: InvalidPackageNameId,
		mdMsg: `
# Invalid package file name

Package archives must be named "Creator.Name.Version.var". Archives with
other names are never registered.

## Things you can try
- Rename the file, then refresh
- Move misnamed files to quarantine:
~~~
$ varkeep cleanup --invalid
~~~`,
	}

	duplicatePackageIssue = &Issue{
		id: DuplicatePackageId,
		mdMsg: `
# Duplicate package

The same package ID exists in more than one file. The copy in the installed
tree wins; the others are ignored.

## Things you can try
- Delete or quarantine the extra copies:
~~~
$ varkeep cleanup --invalid
~~~`,
	}

	corruptArchiveIssue = &Issue{
		id: CorruptArchiveId,
		mdMsg: `
# Corrupt archive

The package is not a readable zip archive. It stays registered but exposes
no files.

## Things you can try
- Download the package again
- Quarantine unreadable archives:
~~~
$ varkeep cleanup --invalid
~~~`,
	}

	missingDependencyIssue = &Issue{
		id: MissingDependencyId,
		mdMsg: `
# Missing dependency

A package refers to another package that is not available in either tree.

## Things you can try
- List everything that is missing:
~~~
$ varkeep missing
~~~
- Place the missing archives in the repository tree and refresh`,
	}

	installConflictIssue = &Issue{
		id: InstallConflictId,
		mdMsg: `
# Install target is occupied

A different file already exists where the package would be moved. Nothing
was changed for this package.

## Things you can try
- Inspect the file at the target path and remove or rename it
- Retry the install afterwards`,
	}

	dependencyCycleIssue = &Issue{
		id: DependencyCycleId,
		mdMsg: `
# Dependency cycle

Packages depend on each other in a loop. They are installed together in a
best-effort order.

## Things you can try
- Show the dependency tree:
~~~
$ varkeep deps <package>
~~~`,
	}

	cacheWriteFailedIssue = &Issue{
		id: CacheWriteFailedId,
		mdMsg: `
# Cache could not be written

Scan results were not persisted. The next start rescans the affected
archives; nothing else is lost.

## Things you can try
- Check free space and permissions of cache_dir
- Delete the cache file to start fresh`,
	}

	permissionDeniedIssue = &Issue{
		id: PermissionDeniedId,
		mdMsg: `
# Permission denied

A package file or directory could not be read or moved.

## Things you can try
- Check ownership of both package trees
- Make sure no other program holds the archive open`,
	}

	issues = map[Id]*Issue{
		configLoadFailedIssue.Id():   configLoadFailedIssue,
		rootMissingIssue.Id():        rootMissingIssue,
		packageNotFoundIssue.Id():    packageNotFoundIssue,
		invalidPackageNameIssue.Id(): invalidPackageNameIssue,
		duplicatePackageIssue.Id():   duplicatePackageIssue,
		corruptArchiveIssue.Id():     corruptArchiveIssue,
		missingDependencyIssue.Id():  missingDependencyIssue,
		installConflictIssue.Id():    installConflictIssue,
		dependencyCycleIssue.Id():    dependencyCycleIssue,
		cacheWriteFailedIssue.Id():   cacheWriteFailedIssue,
		permissionDeniedIssue.Id():   permissionDeniedIssue,
	}

	// sentinels maps errors.Is targets to issues, most specific first.
	sentinels = []struct {
		err error
		id  Id
	}{
		{varpkg.ErrInstallConflict, InstallConflictId},
		{varpkg.ErrMissingDependency, MissingDependencyId},
		{varpkg.ErrDuplicate, DuplicatePackageId},
		{varpkg.ErrInvalidName, InvalidPackageNameId},
		{varpkg.ErrCorruptArchive, CorruptArchiveId},
		{fs.ErrPermission, PermissionDeniedId},
	}
)

// Values returns every issue ordered by ID.
func Values() []*Issue {
	out := make([]*Issue, 0, len(issues))
	for _, i := range issues {
		out = append(out, i)
	}
	slices.SortFunc(out, func(a, b *Issue) int { return cmp.Compare(a.id, b.id) })
	return out
}

// Get returns the issue with id, or nil.
func Get(id Id) *Issue {
	return issues[id]
}

// ForError returns the issue matching err's chain, or nil.
func ForError(err error) *Issue {
	if err == nil {
		return nil
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return issues[s.id]
		}
	}
	var ae *ActionableError
	if errors.As(err, &ae) && strings.Contains(ae.Operation, "configuration") {
		return issues[ConfigLoadFailedId]
	}
	return nil
}
