package facts_test

import (
	"fmt"

	"github.com/openfroyo/hostfacts/pkg/facts"
)

func ExampleStore_Merge() {
	store := facts.NewStore("identity.secret")

	set := facts.NewSet()
	set.Put("os.name", "Debian")
	set.Put("os.release", map[string]string{"full": "7.8", "major": "7", "minor": "8"})
	set.Put("identity.secret", "hunter2")
	res := store.Merge("os", set)
	fmt.Println(len(res.Accepted), res.Rejected[0].Path, res.Rejected[0].Reason)

	// The first writer keeps the path.
	late := facts.NewSet()
	late.Put("os.name", "Ubuntu")
	res = store.Merge("late", late)
	fmt.Println(res.Rejected[0].Reason, res.Rejected[0].Holder)

	tree := store.Snapshot()
	name, _ := tree.Lookup("os.name")
	release, _ := tree.Lookup("os.release")
	fmt.Println(name, release)

	sub, _ := tree.GetSubtree("os")
	for _, f := range sub {
		fmt.Printf("%s => %s\n", f.Path, f.Value)
	}
	// Output:
	// 4 identity.secret blocked
	// exists os
	// Debian {"full":"7.8","major":"7","minor":"8"}
	// name => Debian
	// release.full => 7.8
	// release.major => 7
	// release.minor => 8
}
