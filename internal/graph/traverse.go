/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package graph

// Reachable returns the nodes reachable from the entry in breadth-first
// order, each exactly once. A visited set makes it safe on cyclic graphs.
func Reachable(g *Graph) []NodeID {
	return Walk(g, g.Entry)
}

// Walk returns the nodes reachable from start in breadth-first order.
func Walk(g *Graph, start NodeID) []NodeID {
	if _, ok := g.index[start]; !ok {
		return nil
	}
	visited := map[NodeID]struct{}{start: {}}
	order := []NodeID{start}
	for i := 0; i < len(order); i++ {
		n := g.Nodes[g.index[order[i]]]
		for _, next := range n.Successors() {
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = struct{}{}
			order = append(order, next)
		}
	}
	return order
}
