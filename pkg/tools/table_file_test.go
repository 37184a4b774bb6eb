package tools_test

import (
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/killallgit/relay/pkg/tools"
)

var _ = Describe("LoadTable", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	write := func(body string) string {
		path := filepath.Join(dir, "tools.yaml")
		Expect(os.WriteFile(path, []byte(body), 0644)).To(Succeed())
		return path
	}

	It("merges file entries over the defaults", func() {
		path := write(`
version: 1
aliases:
  deploy:
    category: bash
    display_name: Deploy
  read:
    category: search
    display_name: Peek
prefixes:
  - prefix: "ext__"
    category: external
    display_name: Ext
`)
		table, err := tools.LoadTable(path)
		Expect(err).NotTo(HaveOccurred())

		Expect(table.Classify("Deploy").Category).To(Equal(tools.CategoryBash))
		Expect(table.Classify("read").DisplayName).To(Equal("Peek"))
		Expect(table.Classify("read").Category).To(Equal(tools.CategorySearch))
		Expect(table.Classify("grep").Category).To(Equal(tools.CategorySearch))

		info := table.Classify("ext__jira__search")
		Expect(info.External).To(BeTrue())
		Expect(info.DisplayName).To(Equal("Ext jira/search"))
		Expect(table.Classify("mcp__a__b").Category).To(Equal(tools.CategoryExternal))
	})

	It("defaults a missing category to other", func() {
		path := write(`
version: 1
aliases:
  lint:
    display_name: Lint
`)
		table, err := tools.LoadTable(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(table.Classify("lint").Category).To(Equal(tools.CategoryOther))
	})

	It("rejects a file without a version", func() {
		_, err := tools.LoadTable(write("aliases: {}\n"))
		Expect(err).To(MatchError(ContainSubstring("missing version")))
	})

	It("rejects a version newer than supported", func() {
		_, err := tools.LoadTable(write("version: 99\n"))
		Expect(err).To(MatchError(ContainSubstring("newer than supported")))
	})

	It("rejects unknown categories", func() {
		_, err := tools.LoadTable(write(`
version: 1
aliases:
  zap:
    category: laser
`))
		var tableErr tools.TableError
		Expect(err).To(HaveOccurred())
		Expect(errors.As(err, &tableErr)).To(BeTrue())
	})

	It("fails on a missing file", func() {
		_, err := tools.LoadTable(filepath.Join(dir, "absent.yaml"))
		Expect(err).To(HaveOccurred())
	})
})
